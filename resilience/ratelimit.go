package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/orchestrator/core"
)

// RateLimitConfig configures C1's rate tracker.
type RateLimitConfig struct {
	MaxConcurrentRequests int
	MinRequestInterval    time.Duration
	RequestsPerMinute     int
	TokensPerMinute       int
}

// DefaultRateLimitConfig returns conservative numeric defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxConcurrentRequests: 3,
		MinRequestInterval:    100 * time.Millisecond,
		RequestsPerMinute:     60,
		TokensPerMinute:       150000,
	}
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateTracker holds a sliding window of request timestamps, a sliding
// window of (timestamp, tokens) pairs, and a concurrency semaphore
// count, driving a prune-then-check-then-wait admission loop (see
// DESIGN.md).
type RateTracker struct {
	config *RateLimitConfig

	mu            sync.Mutex
	requestTimes  []time.Time
	tokenUsage    []tpmEntry
	lastRequestAt time.Time
	inflight      int

	log core.Logger
}

// NewRateTracker constructs a tracker; a nil config uses the defaults.
func NewRateTracker(config *RateLimitConfig, log core.Logger) *RateTracker {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &RateTracker{config: config, log: log}
}

// checkLocked evaluates admission for a request with estimatedTokens
// against the current window state. Callers must hold t.mu.
func (t *RateTracker) checkLocked(now time.Time, estimatedTokens int) (bool, time.Duration) {
	t.pruneLocked(now)
	minuteCutoff := now.Add(-60 * time.Second)

	if t.inflight >= t.config.MaxConcurrentRequests {
		wait := t.config.MinRequestInterval
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		return false, wait
	}

	recentRequests := pruneRequestTimes(t.requestTimes, minuteCutoff)
	if len(recentRequests) >= t.config.RequestsPerMinute {
		oldest := recentRequests[0]
		wait := 60*time.Second - now.Sub(oldest)
		if wait > 0 {
			return false, wait
		}
	}

	recentTokenUsage := pruneTokenUsage(t.tokenUsage, minuteCutoff)
	var recentTokens int
	for _, e := range recentTokenUsage {
		recentTokens += e.tokens
	}
	if recentTokens+estimatedTokens > t.config.TokensPerMinute && len(recentTokenUsage) > 0 {
		oldest := recentTokenUsage[0].at
		wait := 60*time.Second - now.Sub(oldest)
		if wait > 0 {
			return false, wait
		}
	}

	if !t.lastRequestAt.IsZero() {
		wait := t.config.MinRequestInterval - now.Sub(t.lastRequestAt)
		if wait > 0 {
			return false, wait
		}
	}

	return true, 0
}

// CanMakeRequest reports whether a request with estimatedTokens may proceed
// now, without reserving anything; if not, it returns the wait duration the
// caller should sleep before re-checking. This is a point-in-time read for
// observability and tests — Wait does not call this method, since checking
// and reserving as two separate locked calls would let two concurrent
// callers both observe "ok" before either reserves a slot.
func (t *RateTracker) CanMakeRequest(estimatedTokens int) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(time.Now(), estimatedTokens)
}

// checkAndAcquireLocked evaluates admission and, if permitted, immediately
// records the reservation (inflight count, request timestamp) in the same
// locked section, so the check and the reservation are indivisible from the
// perspective of any other goroutine. Callers must hold t.mu.
func (t *RateTracker) checkAndAcquireLocked(now time.Time, estimatedTokens int) (bool, time.Duration) {
	ok, wait := t.checkLocked(now, estimatedTokens)
	if !ok {
		return false, wait
	}
	t.inflight++
	t.requestTimes = append(t.requestTimes, now)
	t.lastRequestAt = now
	return true, 0
}

// Wait blocks until a request with estimatedTokens is permitted, reserving
// the slot atomically with the permitting check, or until ctx is
// cancelled. This is the primary suspension point of the backpressure
// model; a caller that receives a nil error has already been counted as
// inflight and must call Release when the call completes.
func (t *RateTracker) Wait(ctx context.Context, estimatedTokens int) error {
	for {
		t.mu.Lock()
		ok, wait := t.checkAndAcquireLocked(time.Now(), estimatedTokens)
		t.mu.Unlock()
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.ErrCancelled
		case <-timer.C:
		}
	}
}

// Acquire reserves one concurrency-semaphore slot and marks the request
// time, independent of any admission check. Callers must call Release
// when the call completes, including on error or cancellation. Wait
// already reserves atomically with its own check and must not be
// followed by a separate call to Acquire.
func (t *RateTracker) Acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.inflight++
	t.requestTimes = append(t.requestTimes, now)
	t.lastRequestAt = now
}

// Release decrements the in-flight counter, keeping state consistent
// across cancellations.
func (t *RateTracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight > 0 {
		t.inflight--
	}
}

// RecordUsage appends a (now, tokens) entry to the tokens-per-minute window.
func (t *RateTracker) RecordUsage(tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokenUsage = append(t.tokenUsage, tpmEntry{at: time.Now(), tokens: tokens})
}

// pruneLocked drops entries older than the 1-hour retention window; the
// per-minute checks in checkLocked further narrow to the most recent
// 60s slice of that window.
func (t *RateTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-1 * time.Hour)
	t.requestTimes = pruneRequestTimes(t.requestTimes, cutoff)
	t.tokenUsage = pruneTokenUsage(t.tokenUsage, cutoff)
}

func pruneRequestTimes(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

func pruneTokenUsage(usage []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(usage) && usage[i].at.Before(cutoff) {
		i++
	}
	return usage[i:]
}

// Inflight reports the current in-flight count, for tests and observability.
func (t *RateTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight
}
