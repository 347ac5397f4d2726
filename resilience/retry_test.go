package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/orchestrator/core"
)

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(errors.New("rate limit exceeded")))
	assert.True(t, IsRetryableError(errors.New("HTTP 503 Service Unavailable")))
	assert.True(t, IsRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsRetryableError(errors.New("invalid argument")))
	assert.False(t, IsRetryableError(nil))
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return errors.New("invalid argument")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "invalid argument")
}

func TestRetryExhaustsAttemptsOnRetryableError(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, JitterEnabled: false}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("503 service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, core.ErrMaxRetriesExceeded)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, JitterEnabled: true}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return errors.New("429 too many requests")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called, "fn must not be called once context is already cancelled")
}

func TestRetryDefaultsOnNilConfig(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
