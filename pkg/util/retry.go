package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls exponential backoff. MaxAttempts counts the first
// try, so 1 means no retry at all.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64

	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error)
}

func DefaultRetryPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: retries + 1,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

func IsRetryable(err error) bool {
	var re retryableError
	return errors.As(err, &re)
}

// Unmark strips the retry marker so callers see the original error type first.
func Unmark(err error) error {
	var re retryableError
	if errors.As(err, &re) {
		return re.err
	}
	return err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := float64(p.InitialWait) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxWait > 0 && wait > float64(p.MaxWait) {
		wait = float64(p.MaxWait)
	}
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Retry runs fn until it succeeds, returns an error not marked Retryable, or
// the attempts run out. The returned error never carries the retry marker.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, Unmark(err))
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, Unmark(lastErr)
}
