package resilience

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrMaxRetriesExceeded is returned when all attempts failed without a
// terminal (non-retryable) error.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryPolicy drives exponential-backoff retries.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// OnRetry is invoked before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy suits short outbound HTTP calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// context is cancelled, or MaxRetries is exhausted.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.delay(attempt)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return errors.Join(ErrMaxRetriesExceeded, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	multiplier := p.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
