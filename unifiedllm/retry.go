package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls how a model call is repeated after a transient
// provider failure. A zero policy never retries.
type RetryPolicy struct {
	MaxRetries int // retries after the first attempt
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64 // backoff growth per attempt; values below 1 mean 1
	Jitter     bool    // scale each delay by a random factor in [0.5, 1.5)

	// Retryable classifies errors. Nil uses IsRetryable. Context overflow
	// is never retried, whatever Retryable says: the caller has to shrink
	// the prompt first.
	Retryable func(error) bool

	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy retries twice, starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the backoff before retry attempt (0-indexed), capped at
// MaxDelay when one is set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := math.Max(p.Multiplier, 1)
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

func (p RetryPolicy) retryable(err error) bool {
	var overflow *ContextLengthError
	if errors.As(err, &overflow) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// RetryError is returned once every attempt has failed with a retryable
// error. It unwraps to the last failure.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("model request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, fails with an error the policy does not
// retry, or runs out of retries. A rate limit's Retry-After replaces the
// backoff; one longer than MaxDelay ends the retries at once.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !policy.retryable(err) {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			if attempt == 0 {
				return zero, err
			}
			return zero, &RetryError{Attempts: attempt + 1, Err: err}
		}

		delay := policy.Delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter != nil {
			after := time.Duration(*rl.RetryAfter * float64(time.Second))
			if policy.MaxDelay > 0 && after > policy.MaxDelay {
				return zero, err
			}
			delay = after
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
