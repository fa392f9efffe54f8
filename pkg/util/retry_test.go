package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy(5), func(int) (string, error) {
		calls++
		if calls < 3 {
			return "", Retryable(errors.New("busy"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("bad range")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(int) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttemptsAndUnmarks(t *testing.T) {
	busy := errors.New("busy")
	var seen []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, err error) {
		seen = append(seen, attempt)
		assert.False(t, IsRetryable(err))
	}

	_, err := Retry(context.Background(), p, func(int) (int, error) {
		return 0, Retryable(busy)
	})
	assert.ErrorIs(t, err, busy)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetrySingleAttemptPolicy(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryPolicy(0), func(int) (int, error) {
		calls++
		return 0, Retryable(errors.New("busy"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, InitialWait: time.Hour, Multiplier: 1}
	p.OnRetry = func(int, error) { cancel() }

	_, err := Retry(ctx, p, func(int) (int, error) {
		return 0, Retryable(errors.New("busy"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}
