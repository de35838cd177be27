// Package retry provides exponential backoff for transient remote failures.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 300 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
)

// Policy configures retry/backoff behavior for retryable failures.
type Policy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
}

// retryableError marks an error as safe to retry by upstream retry loops.
type retryableError struct {
	err error
}

func (e retryableError) Error() string {
	return e.err.Error()
}

func (e retryableError) Unwrap() error {
	return e.err
}

// MarkRetryable wraps an error so retry logic can detect retriable failures.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err has been marked as retryable.
func IsRetryable(err error) bool {
	var target retryableError
	return errors.As(err, &target)
}

// Normalize fills unset settings with defaults.
// A negative MaxRetries disables retries; zero means unset.
func Normalize(policy Policy) Policy {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	} else if policy.MaxRetries == 0 {
		policy.MaxRetries = defaultMaxRetries
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultMaxDelay
	}
	return policy
}

// Merge overlays per-call options on top of client defaults.
func Merge(base Policy, override Policy) Policy {
	merged := Normalize(base)
	if override.MaxRetries > 0 {
		merged.MaxRetries = override.MaxRetries
	}
	if override.BaseDelay > 0 {
		merged.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		merged.MaxDelay = override.MaxDelay
	}
	if merged.MaxDelay < merged.BaseDelay {
		merged.MaxDelay = merged.BaseDelay
	}
	return merged
}

// Backoff returns exponential backoff with jitter for a retry attempt.
func Backoff(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}

// Sleep waits for delay unless the context is canceled first.
func Sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy is exhausted.
// Context cancellation is never retried.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	policy = Normalize(policy)
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !IsRetryable(err) || attempt >= policy.MaxRetries {
			return err
		}

		if err := Sleep(ctx, Backoff(policy, attempt)); err != nil {
			return err
		}
		attempt++
	}
}
