package resilience

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/relaymesh/orchestrator/core"
)

// RetryConfig configures the backoff-and-retry policy of C1 step 7.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig returns conservative defaults (max_retries=3,
// initial_backoff=1.0s, max_backoff=30.0s, multiplier=2.0).
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// retryableSubstrings: an error is retryable if its message contains any
// of these, matched case-insensitively.
var retryableSubstrings = []string{
	"rate limit", "429", "500", "502", "503", "504", "timeout", "service unavailable",
}

// IsRetryableError classifies an error by substring match on its message.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry executes fn up to config.MaxAttempts times, computing each delay as
// min(initialDelay * backoffFactor^attempt, maxDelay) plus jitter of at
// most 10%. Non-retryable errors (per IsRetryableError) return immediately
// without consuming further attempts. Context cancellation aborts
// mid-sleep without counting as an attempt.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w", core.ErrCancelled)
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if !IsRetryableError(err) {
				return err
			}
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt+1)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w", core.ErrCancelled)
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}
