// Package lifecycle holds the pure decision logic for subscription state.
// Nothing here touches the store or the notifier; callers pass a copy of the
// record and the current time and act on the returned decision.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/transfa/subscription-tracker/internal/domain"
)

const (
	// DefaultWarningWindow is how far ahead of expiry a warning becomes due.
	DefaultWarningWindow = 72 * time.Hour
	// RenewalPeriod is the fixed length of one renewal month. Renewals are not
	// calendar-aware.
	RenewalPeriod = renewalDays * day
	// MaxRenewalMonths caps a single renewal at one hundred years.
	MaxRenewalMonths = 1200

	renewalDays = 30
	day         = 24 * time.Hour
)

// State is the transient classification of a subscription at a point in time.
type State int

const (
	StateActive State = iota
	StateExpiringSoon
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Classification is the result of Classify. DaysLeft is only meaningful for
// StateExpiringSoon and StateActive.
type Classification struct {
	State    State
	DaysLeft int
}

// IsExpired reports whether now is strictly past the subscription's end date.
func IsExpired(sub domain.Subscription, now time.Time) bool {
	return sub.IsExpired(now)
}

// DaysLeft returns the whole number of days remaining before the end date,
// rounded down. It is negative once the subscription has expired by a day or more.
func DaysLeft(sub domain.Subscription, now time.Time) int {
	remaining := sub.EndDate.Sub(now)
	days := int(remaining / day)
	if remaining < 0 && remaining%day != 0 {
		days--
	}
	return days
}

// Classify decides which lifecycle state sub is in at now. The active flag is
// not consulted; ShouldWarn and ShouldDeactivateAndNotify combine the two.
func Classify(sub domain.Subscription, now time.Time, warningWindow time.Duration) Classification {
	if sub.IsExpired(now) {
		return Classification{State: StateExpired, DaysLeft: DaysLeft(sub, now)}
	}

	daysLeft := DaysLeft(sub, now)
	if sub.EndDate.Sub(now) <= warningWindow && daysLeft > 0 {
		return Classification{State: StateExpiringSoon, DaysLeft: daysLeft}
	}
	return Classification{State: StateActive, DaysLeft: daysLeft}
}

// ShouldWarn reports whether an expiring-soon warning is due. Inactive
// subscriptions are never warned.
func ShouldWarn(sub domain.Subscription, now time.Time, warningWindow time.Duration) bool {
	if !sub.IsActive {
		return false
	}
	return Classify(sub, now, warningWindow).State == StateExpiringSoon
}

// ShouldDeactivateAndNotify reports whether sub has newly expired. The active
// flag is the one-shot latch: once it is false no further expiry notice is due
// until a renewal sets it again.
func ShouldDeactivateAndNotify(sub domain.Subscription, now time.Time) bool {
	return sub.IsActive && sub.IsExpired(now)
}

// Renew extends the end date by months renewal periods counted from the
// previous end date, not from now, and forces the subscription active.
// Arrears on an already expired subscription are therefore not forgiven.
func Renew(sub domain.Subscription, months int, now time.Time) (domain.Subscription, error) {
	if err := ValidateRenewalMonths(months); err != nil {
		return sub, err
	}
	sub.EndDate = sub.EndDate.Add(time.Duration(months) * RenewalPeriod)
	sub.IsActive = true
	sub.UpdatedAt = now
	return sub, nil
}

// ValidateRenewalMonths rejects month counts outside 1..MaxRenewalMonths.
func ValidateRenewalMonths(months int) error {
	if months <= 0 {
		return fmt.Errorf("%w: renewal months must be positive, got %d", domain.ErrInvalidArgument, months)
	}
	if months > MaxRenewalMonths {
		return fmt.Errorf("%w: renewal months must not exceed %d, got %d", domain.ErrInvalidArgument, MaxRenewalMonths, months)
	}
	return nil
}
