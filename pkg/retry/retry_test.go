package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesWithExponentialDelays(t *testing.T) {
	policy := Policy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Second, Multiplier: 2}

	var delays []time.Duration
	var attempts []int
	err := Do(context.Background(), policy, func(attempt int) error {
		attempts = append(attempts, attempt)
		return stderrors.New("connection reset")
	}, Options{
		OnRetry: func(attempt int, err error, next time.Duration) {
			delays = append(delays, next)
		},
	})

	require.EqualError(t, err, "connection reset")
	assert.Equal(t, []int{0, 1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	sentinel := stderrors.New("bad input")

	err := Do(context.Background(), DefaultPolicy(), func(int) error {
		calls++
		return sentinel
	}, Options{IsRetryable: func(error) bool { return false }})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnFatalError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(int) error {
		calls++
		return NewFatalError(stderrors.New("fatal"))
	}, Options{})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	policy := Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 2}
	calls := 0

	err := Do(context.Background(), policy, func(attempt int) error {
		calls++
		if attempt == 0 {
			return stderrors.New("timeout")
		}
		return nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{MaxRetries: 5, InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 2}
	err := Do(ctx, policy, func(int) error { return stderrors.New("timeout") }, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExponentialBackoffIsCappedWithoutJitter(t *testing.T) {
	b := ExponentialBackoff(500*time.Millisecond, 2*time.Second, 2)
	var delays []time.Duration
	for i := 0; i < 5; i++ {
		delays = append(delays, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
	}, delays)
}
