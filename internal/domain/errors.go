package domain

import "errors"

var (
	// ErrNotFound is returned when no subscription exists for the requested id.
	ErrNotFound = errors.New("subscription not found")
	// ErrInvalidArgument marks caller input that can never succeed, such as a
	// non-positive renewal period or a malformed address.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPersistence wraps store failures other than a missing record.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotificationFailure is only ever logged. It never blocks a state transition.
	ErrNotificationFailure = errors.New("notification failure")
)
