package app

import (
	"context"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the exponential backoff applied to retryable store errors.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return b
}

// withRetry runs op until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. Only ErrStoreUnavailable and
// ErrConcurrencyConflict are retried.
func withRetry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	policy = policy.normalized()
	operation := func() (T, error) {
		result, err := op()
		if err != nil && !domain.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.newBackOff()),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
}
