/**
 * @description
 * Subscription management operations used by the HTTP API. Every read and
 * write goes through the store; the service only adds validation, defaults
 * and the computed is_expired view.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/transfa/subscription-tracker/internal/domain"
	"github.com/transfa/subscription-tracker/internal/lifecycle"
	"github.com/transfa/subscription-tracker/internal/store"
)

// Clock returns the current time. Tests substitute a virtual clock.
type Clock func() time.Time

// Service implements the subscription CRUD, renew and status operations.
type Service struct {
	repo     store.Repository
	validate *validator.Validate
	clock    Clock
	logger   *slog.Logger
}

// NewService creates a Service. A nil clock means time.Now.
func NewService(repo store.Repository, logger *slog.Logger, clock Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clock,
		logger:   logger,
	}
}

// NormalizeEmail lowercases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) invalid(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q validation", domain.ErrInvalidArgument, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}

// CreateSubscription stores a new active subscription. StartDate defaults to now.
func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.SubscriptionResponse, error) {
	req.UserEmail = NormalizeEmail(req.UserEmail)
	req.PlanName = strings.TrimSpace(req.PlanName)
	if err := s.validate.Struct(req); err != nil {
		return domain.SubscriptionResponse{}, s.invalid(err)
	}

	now := s.clock()
	start := now
	if req.StartDate != nil {
		start = *req.StartDate
	}

	created, err := s.repo.CreateSubscription(ctx, domain.Subscription{
		UserEmail: req.UserEmail,
		PlanName:  req.PlanName,
		StartDate: start,
		EndDate:   req.EndDate,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}

	s.logger.Info("subscription created", "subscription_id", created.ID, "plan", created.PlanName, "end_date", created.EndDate)
	return domain.NewSubscriptionResponse(*created, now), nil
}

// GetSubscription returns the record with its is_expired flag computed now.
func (s *Service) GetSubscription(ctx context.Context, id int64) (domain.SubscriptionResponse, error) {
	sub, err := s.repo.GetSubscriptionByID(ctx, id)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}
	return domain.NewSubscriptionResponse(*sub, s.clock()), nil
}

// UpdateSubscription applies a partial update. An empty update returns the
// current record unchanged.
func (s *Service) UpdateSubscription(ctx context.Context, id int64, upd domain.SubscriptionUpdate) (domain.SubscriptionResponse, error) {
	if upd.PlanName != nil {
		trimmed := strings.TrimSpace(*upd.PlanName)
		upd.PlanName = &trimmed
	}
	if err := s.validate.Struct(upd); err != nil {
		return domain.SubscriptionResponse{}, s.invalid(err)
	}
	if upd.IsEmpty() {
		return s.GetSubscription(ctx, id)
	}

	now := s.clock()
	updated, err := s.repo.UpdateSubscription(ctx, id, upd, now)
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}

	s.logger.Info("subscription updated", "subscription_id", id)
	return domain.NewSubscriptionResponse(*updated, now), nil
}

// RenewSubscription extends the subscription by months renewal periods from
// its previous end date and reactivates it.
func (s *Service) RenewSubscription(ctx context.Context, id int64, months int) (domain.SubscriptionResponse, error) {
	if err := lifecycle.ValidateRenewalMonths(months); err != nil {
		return domain.SubscriptionResponse{}, err
	}

	now := s.clock()
	renewed, err := s.repo.ModifySubscription(ctx, id, now, func(sub domain.Subscription) (domain.Subscription, error) {
		return lifecycle.Renew(sub, months, now)
	})
	if err != nil {
		return domain.SubscriptionResponse{}, err
	}

	s.logger.Info("subscription renewed", "subscription_id", id, "months", months, "end_date", renewed.EndDate)
	return domain.NewSubscriptionResponse(*renewed, now), nil
}

// GetSubscriptionStatus returns the stored active flag and the computed expiry flag.
func (s *Service) GetSubscriptionStatus(ctx context.Context, id int64) (domain.SubscriptionStatus, error) {
	sub, err := s.repo.GetSubscriptionByID(ctx, id)
	if err != nil {
		return domain.SubscriptionStatus{}, err
	}
	return domain.SubscriptionStatus{
		IsActive:  sub.IsActive,
		IsExpired: sub.IsExpired(s.clock()),
	}, nil
}

// ListSubscriptionsByEmail returns every subscription held by the address.
func (s *Service) ListSubscriptionsByEmail(ctx context.Context, email string) ([]domain.SubscriptionResponse, error) {
	email = NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: user_email must be a valid address", domain.ErrInvalidArgument)
	}

	subs, err := s.repo.ListSubscriptionsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	out := make([]domain.SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, domain.NewSubscriptionResponse(sub, now))
	}
	return out, nil
}
