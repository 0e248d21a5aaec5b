package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every failure returned by the services wraps
// exactly one of these, so errors.Is picks the kind and Error() carries detail.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrPaymentFailed = errors.New("payment failed")
	ErrValidation    = errors.New("validation error")
)

var (
	ErrUnitNotFound    = fmt.Errorf("unit %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)

	ErrUnitUnavailable        = fmt.Errorf("%w: unit not available", ErrConflict)
	ErrDatesOverlap           = fmt.Errorf("%w: unit already booked for requested dates", ErrConflict)
	ErrIllegalTransition      = fmt.Errorf("%w: illegal booking status transition", ErrConflict)
	ErrConcurrentModification = fmt.Errorf("%w: record changed concurrently", ErrConflict)
	ErrDuplicateUsername      = fmt.Errorf("%w: username already taken", ErrConflict)
	ErrDuplicateUnit          = fmt.Errorf("%w: unit already exists", ErrConflict)

	ErrPaymentDeclined = fmt.Errorf("%w: declined by gateway", ErrPaymentFailed)

	ErrInvalidDateRange = fmt.Errorf("%w: end date must not be before start date", ErrValidation)
)

// Kind returns the caller-facing kind of err, or "internal" when err does not
// wrap one of the known kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
