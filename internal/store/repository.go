/**
 * @description
 * This file defines the Repository contract for the subscription-tracker.
 * The store exclusively owns persisted subscription state; callers receive
 * copies and must not assume any caching between calls.
 */
package store

import (
	"context"
	"time"

	"github.com/transfa/subscription-tracker/internal/domain"
)

// Repository defines the data access operations used by the API service and the sweep job.
type Repository interface {
	CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)
	GetSubscriptionByID(ctx context.Context, id int64) (*domain.Subscription, error)
	// UpdateSubscription overwrites only the fields present in upd.
	UpdateSubscription(ctx context.Context, id int64, upd domain.SubscriptionUpdate, now time.Time) (*domain.Subscription, error)
	// ModifySubscription runs fn against the locked current record and persists its result.
	// Concurrent writers to the same record are serialized.
	ModifySubscription(ctx context.Context, id int64, now time.Time, fn func(domain.Subscription) (domain.Subscription, error)) (*domain.Subscription, error)
	ListSubscriptionsByEmail(ctx context.Context, email string) ([]domain.Subscription, error)
	// ListExpiringWithin returns subscriptions whose end date falls in [now, now+window].
	ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration, activeOnly bool) ([]domain.Subscription, error)
	// ListExpiredActive returns active subscriptions whose end date is before now.
	ListExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	// BeginSweep opens the single transaction a sweep run uses for its deactivations.
	BeginSweep(ctx context.Context) (SweepBatch, error)
}

// SweepBatch stages the deactivations of one sweep run and commits them together.
type SweepBatch interface {
	// Deactivate flips is_active to false if the record is still active and its
	// end date is before asOf. It reports whether the record was changed. A
	// failure affects only this record; the batch stays usable.
	Deactivate(ctx context.Context, id int64, asOf time.Time) (bool, error)
	Commit(ctx context.Context) error
	// Rollback discards staged changes. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}
