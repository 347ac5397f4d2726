package resilience

import (
	"context"
	"time"

	"github.com/relaymesh/orchestrator/core"
)

// Breaker is the circuit-breaker behavior CallWrapper depends on,
// satisfied by both the in-memory CircuitBreaker and the optional
// Redis-backed RedisCircuitBreaker.
type Breaker interface {
	State() CircuitState
	Execute(fn func() (interface{}, error)) (interface{}, error)
}

// RateLimiter is the admission-control behavior CallWrapper depends on,
// satisfied by both the in-memory RateTracker and the optional
// Redis-backed RedisRateLimiter.
type RateLimiter interface {
	Wait(ctx context.Context, estimatedTokens int) error
	Release()
	RecordUsage(tokens int)
}

// CallWrapper implements the Resilient Call Wrapper (C1), composing a
// Breaker, a RateLimiter, a concurrency semaphore, and Retry into a
// single Execute sequence (see DESIGN.md).
type CallWrapper struct {
	name    string
	breaker Breaker
	rate    RateLimiter
	retry   *RetryConfig
	usage   *UsageMonitor
	log     core.Logger
	tel     core.Telemetry
}

// NewCallWrapper constructs a CallWrapper. A wrapper may be shared across
// all outbound calls (global fairness) or constructed once per agent
// (isolation) — both are first-class usage patterns. breaker and rate
// accept either the in-memory implementations or their Redis-backed
// counterparts.
func NewCallWrapper(name string, breaker Breaker, rate RateLimiter, retry *RetryConfig, usage *UsageMonitor, log core.Logger, tel core.Telemetry) *CallWrapper {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	if tel == nil {
		tel = &core.NoOpTelemetry{}
	}
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	if usage == nil {
		usage = NewUsageMonitor(0)
	}
	return &CallWrapper{name: name, breaker: breaker, rate: rate, retry: retry, usage: usage, log: log, tel: tel}
}

// Usage exposes the wrapper's UsageMonitor for risk-assessment callers,
// whose recent truncation rate feeds back into AssessRisk.
func (w *CallWrapper) Usage() *UsageMonitor {
	return w.usage
}

// Execute runs the full Execute(fn, estimatedTokens) operation:
//  1. circuit breaker check
//  2. rate-tracker wait
//  3. concurrency-semaphore acquire (folded into the RateTracker itself —
//     see DESIGN.md)
//  4. minimum inter-request interval (also folded into the RateTracker)
//  5. invoke fn; record usage and breaker success on success
//  6. classify failure; non-retryable failures record a breaker failure
//     and propagate
//  7. retryable failures retry with backoff, recording a breaker failure
//     only after max_retries is exhausted
// fn reports (value, actual tokens used, whether the caller had to
// truncate its input to fit a context budget, error). The truncated flag
// feeds UsageMonitor.RecentTruncationRate for C2's risk assessment.
func (w *CallWrapper) Execute(ctx context.Context, label string, estimatedTokens int, fn func(ctx context.Context) (interface{}, int, bool, error)) (interface{}, error) {
	ctx, span := w.tel.StartSpan(ctx, "resilience.CallWrapper.Execute")
	defer span.End()
	span.SetAttribute("wrapper", w.name)
	span.SetAttribute("label", label)

	if w.breaker != nil && w.breaker.State() == StateOpen {
		err := core.NewFrameworkError("CallWrapper.Execute", core.KindUpstreamUnavailable, core.ErrCircuitOpen)
		span.RecordError(err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled
	}

	if w.rate != nil {
		// Wait reserves the inflight slot atomically with the admission
		// check it performs internally; a separate Acquire call here would
		// reopen the check-then-reserve race Wait exists to close.
		if err := w.rate.Wait(ctx, estimatedTokens); err != nil {
			return nil, err
		}
		defer w.rate.Release()
	}

	var result interface{}
	var tokensUsed int
	var truncated bool
	attempt := 0
	retryErr := Retry(ctx, w.retry, func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		res, tokens, trunc, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		tokensUsed = tokens
		truncated = trunc
		return nil
	})

	if retryErr != nil {
		if core.IsCancelled(retryErr) || retryErr == context.Canceled || retryErr == context.DeadlineExceeded {
			span.RecordError(retryErr)
			return nil, core.ErrCancelled
		}
		if w.breaker != nil {
			_, _ = w.breaker.Execute(func() (interface{}, error) { return nil, retryErr })
		}
		span.RecordError(retryErr)
		w.log.ErrorWithContext(ctx, "call wrapper exhausted retries", map[string]interface{}{
			"wrapper": w.name, "label": label, "attempts": attempt, "error": retryErr.Error(),
		})
		return nil, core.NewFrameworkError("CallWrapper.Execute", core.KindUpstreamUnavailable, retryErr)
	}

	if w.breaker != nil {
		_, _ = w.breaker.Execute(func() (interface{}, error) { return result, nil })
	}
	if tokensUsed == 0 {
		tokensUsed = estimatedTokens
	}
	if w.rate != nil {
		w.rate.RecordUsage(tokensUsed)
	}
	if w.usage != nil {
		w.usage.Record(UsageRecord{
			Timestamp:    time.Now(),
			ContextLabel: label,
			TokensUsed:   tokensUsed,
			MaxTokens:    estimatedTokens,
			Truncated:    truncated,
		})
	}
	return result, nil
}
