package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func serverError() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "server error"}, Retryable: true}}
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"first", RetryPolicy{BaseDelay: time.Second, Multiplier: 2}, 0, time.Second},
		{"grows", RetryPolicy{BaseDelay: time.Second, Multiplier: 2}, 3, 8 * time.Second},
		{"capped", RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"multiplier below one is flat", RetryPolicy{BaseDelay: time.Second, Multiplier: 0.5}, 4, time.Second},
		{"zero policy", RetryPolicy{}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var attempts []int
	policy := fastPolicy(3)
	policy.OnRetry = func(err error, attempt int, delay time.Duration) { attempts = append(attempts, attempt) }

	result, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", serverError()
		}
		return "success", nil
	})
	if err != nil || result != "success" {
		t.Fatalf("Retry = %q, %v", result, err)
	}
	if calls != 3 || len(attempts) != 2 || attempts[1] != 2 {
		t.Errorf("calls = %d, retry attempts = %v", calls, attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"authentication", &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "invalid key"}}}},
		{"context overflow", fmt.Errorf("turn: %w", NewContextLengthError("openai", "too long"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
				calls++
				return "", tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("expected 1 call, got %d", calls)
			}
		})
	}
}

func TestRetryClassifierCannotRetryOverflow(t *testing.T) {
	policy := fastPolicy(3)
	policy.Retryable = func(error) bool { return true }

	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", NewContextLengthError("openai", "too long")
	})
	var overflow *ContextLengthError
	if !errors.As(err, &overflow) || calls != 1 {
		t.Fatalf("overflow must surface at once: calls=%d err=%v", calls, err)
	}
}

func TestRetryCustomClassifier(t *testing.T) {
	policy := fastPolicy(1)
	policy.Retryable = func(err error) bool { return err.Error() == "flaky" }

	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("flaky")
	})
	if calls != 2 || err == nil {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Multiplier: 1}
	after := 0.001
	var gotDelay time.Duration
	policy.OnRetry = func(err error, attempt int, delay time.Duration) { gotDelay = delay }

	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &after}}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDelay != time.Millisecond {
		t.Errorf("expected Retry-After delay of 1ms, got %v", gotDelay)
	}
}

func TestRetryAfterBeyondMaxDelayGivesUp(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1}
	after := 120.0
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &after}}
	})
	var rl *RateLimitError
	if !errors.As(err, &rl) || calls != 1 {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		calls++
		return "", serverError()
	})
	var exhausted *RetryError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryError, got %v", err)
	}
	if exhausted.Attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d", exhausted.Attempts, calls)
	}
	var server *ServerError
	if !errors.As(err, &server) {
		t.Error("RetryError should unwrap to the last failure")
	}
}

func TestRetryZeroPolicyReturnsFirstError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{}, func(ctx context.Context) (string, error) {
		calls++
		return "", serverError()
	})
	var exhausted *RetryError
	if calls != 1 || errors.As(err, &exhausted) {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestRetryCancelled(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	calls := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &NetworkError{SDKError: SDKError{Message: "connection reset"}}
	})
	var aborted *AbortError
	if !errors.As(err, &aborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected AbortError wrapping context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cancellation during the first backoff, got %d calls", calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != time.Second || p.MaxDelay != time.Minute || p.Multiplier != 2 || !p.Jitter {
		t.Errorf("DefaultRetryPolicy() = %+v", p)
	}
}
