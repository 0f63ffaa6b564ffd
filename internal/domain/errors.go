package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the campaign's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation wraps every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable marks a transient storage failure that may be retried.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConcurrencyConflict marks a lost conditional write or serialization failure.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrIdempotencyConflict is returned when an idempotency key is reused with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrForbidden           = errors.New("forbidden")
)

// RateLimitError reports a rejected donation and when the donor may retry.
type RateLimitError struct {
	DonorID    string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("donor %s exceeded %d donations per window, retry in %s", e.DonorID, e.Limit, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// ValidationError reports a single invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsRetryable reports whether err is a transient store failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrencyConflict)
}
