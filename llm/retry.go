package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff for retryable model-call
// failures. One policy instance is shared by every retryable
// collaborator call site.
type RetryPolicy struct {
	MaxAttempts       int     // total attempts including the first
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // cap on the delay between attempts
	BackoffMultiplier float64 // exponential factor
	Jitter            bool    // +/- 50% randomization
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default backoff configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         1.0,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the backoff delay before retry n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		delay = delay * (0.5 + rand.Float64()) // [0.5, 1.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn under the policy. Only retryable errors are
// retried; non-retryable errors return immediately. When attempts run
// out the last error is wrapped with ErrAttemptsExhausted.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			var rl *RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter != nil {
				after := time.Duration(*rl.RetryAfter * float64(time.Second))
				if after > time.Duration(policy.MaxDelay*float64(time.Second)) {
					// Retry-After exceeds the cap; surface immediately.
					return zero, err
				}
				delay = after
			}
			if policy.OnRetry != nil {
				policy.OnRetry(err, attempt, delay)
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		var result T
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, attempts, err)
}
