package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWrapper(t *testing.T, name string) *CallWrapper {
	t.Helper()
	breaker := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 1,
	})
	rate := NewRateTracker(&RateLimitConfig{
		MaxConcurrentRequests: 4,
		RequestsPerMinute:     1000,
		TokensPerMinute:       1000000,
	}, nil)
	retry := &RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	return NewCallWrapper(name, breaker, rate, retry, NewUsageMonitor(10), nil, nil)
}

func TestCallWrapperExecuteSuccess(t *testing.T) {
	w := newTestWrapper(t, "success")
	result, err := w.Execute(context.Background(), "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
		return "ok", 5, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, len(w.Usage().Recent(10)))
	assert.False(t, w.Usage().Recent(10)[0].Truncated)
}

func TestCallWrapperExecuteRecordsTruncation(t *testing.T) {
	w := newTestWrapper(t, "truncated")
	_, err := w.Execute(context.Background(), "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
		return "ok", 5, true, nil
	})
	require.NoError(t, err)
	records := w.Usage().Recent(1)
	require.Len(t, records, 1)
	assert.True(t, records[0].Truncated)
}

func TestCallWrapperExecuteNonRetryableFails(t *testing.T) {
	w := newTestWrapper(t, "nonretryable")
	callCount := 0
	_, err := w.Execute(context.Background(), "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
		callCount++
		return nil, 0, false, errors.New("bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestCallWrapperExecuteRetriesRetryableError(t *testing.T) {
	w := newTestWrapper(t, "retryable")
	callCount := 0
	_, err := w.Execute(context.Background(), "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
		callCount++
		return nil, 0, false, errors.New("503 service unavailable")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, callCount) // MaxAttempts=2
}

func TestCallWrapperExecuteRejectsWhenCircuitOpen(t *testing.T) {
	w := newTestWrapper(t, "open-circuit")
	for i := 0; i < 2; i++ {
		_, _ = w.Execute(context.Background(), "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
			return nil, 0, false, errors.New("bad request")
		})
	}
	_, err := w.Execute(context.Background(), "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
		return "should not run", 0, false, nil
	})
	assert.Error(t, err)
}

func TestCallWrapperExecuteRespectsCancelledContext(t *testing.T) {
	w := newTestWrapper(t, "cancelled")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Execute(ctx, "op", 10, func(ctx context.Context) (interface{}, int, bool, error) {
		return "should not run", 0, false, nil
	})
	assert.Error(t, err)
}

func TestNewCallWrapperNilUsageIsSafe(t *testing.T) {
	w := NewCallWrapper("nil-usage", nil, nil, nil, nil, nil, nil)
	assert.NotNil(t, w.Usage())
	assert.Equal(t, float64(0), w.Usage().RecentTruncationRate())
}
