/**
 * @description
 * This file defines the core domain models for the subscription-tracker.
 * It includes the Subscription record owned by the store, the partial update
 * structure used by the API, and the DTOs returned to clients.
 */
package domain

import "time"

// Subscription represents one user's access grant as persisted by the store.
type Subscription struct {
	ID        int64     `json:"id"`
	UserEmail string    `json:"user_email"`
	PlanName  string    `json:"plan_name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"` // exclusive validity boundary
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether now is strictly past the end date.
// The flag is never stored; every caller computes it against its own clock.
func (s Subscription) IsExpired(now time.Time) bool {
	return now.After(s.EndDate)
}

// CreateSubscriptionRequest carries the fields accepted when creating a subscription.
type CreateSubscriptionRequest struct {
	UserEmail string     `json:"user_email" validate:"required,email"`
	PlanName  string     `json:"plan_name" validate:"required,max=255"`
	EndDate   time.Time  `json:"end_date" validate:"required"`
	StartDate *time.Time `json:"start_date,omitempty"`
}

// SubscriptionUpdate is a partial update. Only non-nil fields overwrite the stored record.
type SubscriptionUpdate struct {
	PlanName *string    `json:"plan_name,omitempty" validate:"omitempty,min=1,max=255"`
	EndDate  *time.Time `json:"end_date,omitempty"`
	IsActive *bool      `json:"is_active,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (u SubscriptionUpdate) IsEmpty() bool {
	return u.PlanName == nil && u.EndDate == nil && u.IsActive == nil
}

// Apply returns a copy of sub with the present fields overwritten.
func (u SubscriptionUpdate) Apply(sub Subscription) Subscription {
	if u.PlanName != nil {
		sub.PlanName = *u.PlanName
	}
	if u.EndDate != nil {
		sub.EndDate = *u.EndDate
	}
	if u.IsActive != nil {
		sub.IsActive = *u.IsActive
	}
	return sub
}

// SubscriptionResponse is the API view of a subscription, with is_expired
// computed at response time.
type SubscriptionResponse struct {
	Subscription
	IsExpired bool `json:"is_expired"`
}

// NewSubscriptionResponse builds the API view of sub as observed at now.
func NewSubscriptionResponse(sub Subscription, now time.Time) SubscriptionResponse {
	return SubscriptionResponse{Subscription: sub, IsExpired: sub.IsExpired(now)}
}

// SubscriptionStatus is the DTO returned by the status endpoint.
type SubscriptionStatus struct {
	IsActive  bool `json:"is_active"`
	IsExpired bool `json:"is_expired"`
}
