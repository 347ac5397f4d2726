package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/relaymesh/orchestrator/core"
)

// RedisStateConfig configures the optional Redis-backed distributed
// RateState/CircuitState, activated only when URL is non-empty.
// Namespace scopes keys so multiple wrappers (coordinator, specialist)
// sharing one Redis instance don't collide.
type RedisStateConfig struct {
	URL       string
	Namespace string
}

func connectRedis(cfg RedisStateConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", core.ErrInvalidConfiguration)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", core.ErrUpstreamUnavailable)
	}
	return client, nil
}

const rateWindow = 60 * time.Second

// checkAndAcquireScript mirrors RateTracker.checkAndAcquireLocked's
// single-critical-section admission check, executed server-side so a
// concurrent caller on another replica can't observe the same "ok" before
// either reserves its slot.
var checkAndAcquireScript = redis.NewScript(`
local inflightKey = KEYS[1]
local rpmKey = KEYS[2]
local tpmKey = KEYS[3]
local lastKey = KEYS[4]
local maxConcurrent = tonumber(ARGV[1])
local rpmLimit = tonumber(ARGV[2])
local tpmLimit = tonumber(ARGV[3])
local estimatedTokens = tonumber(ARGV[4])
local windowSeconds = tonumber(ARGV[5])
local minIntervalMs = tonumber(ARGV[6])

local inflight = tonumber(redis.call('GET', inflightKey) or '0')
if inflight >= maxConcurrent then
  return 0
end

local rpm = tonumber(redis.call('GET', rpmKey) or '0')
if rpm >= rpmLimit then
  return 0
end

local tpm = tonumber(redis.call('GET', tpmKey) or '0')
if tpm + estimatedTokens > tpmLimit then
  return 0
end

if minIntervalMs > 0 then
  local ttl = redis.call('PTTL', lastKey)
  if ttl and ttl > 0 then
    return 0
  end
end

redis.call('INCR', inflightKey)
redis.call('INCR', rpmKey)
redis.call('EXPIRE', rpmKey, windowSeconds)
if minIntervalMs > 0 then
  redis.call('SET', lastKey, '1', 'PX', minIntervalMs)
end
return 1
`)

// RedisRateLimiter enforces the same admission rules as RateTracker —
// concurrency ceiling, requests-per-minute, tokens-per-minute, minimum
// inter-request interval — against counters shared over Redis, so the
// ceilings hold across every replica of a multi-instance deployment
// instead of per-process. It uses fixed one-minute count buckets rather
// than RateTracker's exact sliding window, a coarser approximation that
// trades precision for a single round trip per check.
type RedisRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	prefix string
	log    core.Logger
}

// NewRedisRateLimiter connects to cfg.URL and returns a limiter scoped to
// cfg.Namespace. Returns an error if the connection cannot be established;
// callers should fall back to an in-memory RateTracker rather than fail
// startup, since distributed rate state is an optional enhancement.
func NewRedisRateLimiter(cfg RedisStateConfig, limits *RateLimitConfig, log core.Logger) (*RedisRateLimiter, error) {
	client, err := connectRedis(cfg)
	if err != nil {
		return nil, core.NewFrameworkError("resilience.NewRedisRateLimiter", core.KindInternal, err)
	}
	if limits == nil {
		limits = DefaultRateLimitConfig()
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "orchestrator"
	}
	return &RedisRateLimiter{client: client, config: limits, prefix: namespace + ":ratelimit:", log: log}, nil
}

func (r *RedisRateLimiter) keys() (inflight, rpm, tpm, last string) {
	return r.prefix + "inflight", r.prefix + "rpm", r.prefix + "tpm", r.prefix + "last"
}

// Wait blocks, polling the distributed admission check, until a request
// with estimatedTokens is permitted or ctx is cancelled. A nil return
// means the inflight counter has already been incremented; callers must
// call Release when the call completes.
func (r *RedisRateLimiter) Wait(ctx context.Context, estimatedTokens int) error {
	inflightKey, rpmKey, tpmKey, lastKey := r.keys()
	minIntervalMs := r.config.MinRequestInterval.Milliseconds()

	for {
		res, err := checkAndAcquireScript.Run(ctx, r.client,
			[]string{inflightKey, rpmKey, tpmKey, lastKey},
			r.config.MaxConcurrentRequests, r.config.RequestsPerMinute, r.config.TokensPerMinute,
			estimatedTokens, int(rateWindow.Seconds()), minIntervalMs,
		).Int()
		if err != nil {
			if ctx.Err() != nil {
				return core.ErrCancelled
			}
			r.log.Error("resilience: redis rate check failed", map[string]interface{}{"error": err.Error()})
			return core.NewFrameworkError("RedisRateLimiter.Wait", core.KindUpstreamUnavailable, err)
		}
		if res == 1 {
			return nil
		}

		wait := r.config.MinRequestInterval
		if wait <= 0 {
			wait = 50 * time.Millisecond
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

// Release decrements the distributed inflight counter.
func (r *RedisRateLimiter) Release() {
	inflightKey, _, _, _ := r.keys()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if n, err := r.client.Decr(ctx, inflightKey).Result(); err == nil && n < 0 {
		r.client.Set(ctx, inflightKey, 0, 0)
	}
}

// RecordUsage adds tokens to the current minute's token bucket.
func (r *RedisRateLimiter) RecordUsage(tokens int) {
	_, _, tpmKey, _ := r.keys()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.IncrBy(ctx, tpmKey, int64(tokens))
	pipe.Expire(ctx, tpmKey, rateWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("resilience: redis usage record failed", map[string]interface{}{"error": err.Error()})
	}
}

// Close releases the underlying Redis connection.
func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

// circuitState is the Redis-stored string form of CircuitState.
const (
	redisCircuitClosed   = "closed"
	redisCircuitOpen     = "open"
	redisCircuitHalfOpen = "half_open"
)

// RedisCircuitBreaker implements the same consecutive-failure/
// consecutive-success state machine as CircuitBreaker, but keyed in Redis
// so every replica observes and contributes to the same breaker state.
type RedisCircuitBreaker struct {
	client *redis.Client
	name   string
	prefix string
	cfg    *CircuitBreakerConfig
	log    core.Logger
}

// NewRedisCircuitBreaker connects to cfg.URL and returns a breaker scoped
// to cfg.Namespace and breakerCfg.Name.
func NewRedisCircuitBreaker(cfg RedisStateConfig, breakerCfg *CircuitBreakerConfig, log core.Logger) (*RedisCircuitBreaker, error) {
	client, err := connectRedis(cfg)
	if err != nil {
		return nil, core.NewFrameworkError("resilience.NewRedisCircuitBreaker", core.KindInternal, err)
	}
	if breakerCfg == nil {
		breakerCfg = DefaultCircuitBreakerConfig("default")
	}
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg.FailureThreshold = 5
	}
	if breakerCfg.RecoveryTimeout == 0 {
		breakerCfg.RecoveryTimeout = 60 * time.Second
	}
	if breakerCfg.SuccessThreshold == 0 {
		breakerCfg.SuccessThreshold = 3
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "orchestrator"
	}
	return &RedisCircuitBreaker{
		client: client,
		name:   breakerCfg.Name,
		prefix: fmt.Sprintf("%s:circuit:%s:", namespace, breakerCfg.Name),
		cfg:    breakerCfg,
		log:    log,
	}, nil
}

func (b *RedisCircuitBreaker) keys() (state, failures, successes, openedAt string) {
	return b.prefix + "state", b.prefix + "failures", b.prefix + "successes", b.prefix + "opened_at"
}

// State reports the breaker's current state, transitioning a stale "open"
// entry to "half_open" once RecoveryTimeout has elapsed, the same way
// gobreaker's Timeout field drives CircuitBreaker's recovery.
func (b *RedisCircuitBreaker) State() CircuitState {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return b.stateLocked(ctx)
}

func (b *RedisCircuitBreaker) stateLocked(ctx context.Context) CircuitState {
	stateKey, _, successesKey, openedAtKey := b.keys()
	raw, err := b.client.Get(ctx, stateKey).Result()
	if err == redis.Nil || err != nil {
		return StateClosed
	}
	if raw != redisCircuitOpen {
		if raw == redisCircuitHalfOpen {
			return StateHalfOpen
		}
		return StateClosed
	}

	openedAtRaw, err := b.client.Get(ctx, openedAtKey).Int64()
	if err != nil {
		return StateOpen
	}
	openedAt := time.UnixMilli(openedAtRaw)
	if time.Since(openedAt) < b.cfg.RecoveryTimeout {
		return StateOpen
	}

	b.client.Set(ctx, stateKey, redisCircuitHalfOpen, 0)
	b.client.Set(ctx, successesKey, 0, 0)
	return StateHalfOpen
}

// Execute runs fn through the breaker, rejecting with core.ErrCircuitOpen
// while open.
func (b *RedisCircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if b.stateLocked(ctx) == StateOpen {
		return nil, fmt.Errorf("%s: %w", b.name, core.ErrCircuitOpen)
	}

	result, err := fn()
	if err != nil {
		b.recordFailure(ctx)
		return nil, err
	}
	b.recordSuccess(ctx)
	return result, nil
}

func (b *RedisCircuitBreaker) recordFailure(ctx context.Context) {
	stateKey, failuresKey, _, openedAtKey := b.keys()
	halfOpen := b.stateLocked(ctx) == StateHalfOpen
	n, err := b.client.Incr(ctx, failuresKey).Result()
	if err != nil {
		b.log.Error("resilience: redis circuit failure record failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n >= int64(b.cfg.FailureThreshold) || halfOpen {
		pipe := b.client.TxPipeline()
		pipe.Set(ctx, stateKey, redisCircuitOpen, 0)
		pipe.Set(ctx, openedAtKey, time.Now().UnixMilli(), 0)
		pipe.Set(ctx, failuresKey, 0, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Error("resilience: redis circuit trip failed", map[string]interface{}{"error": err.Error()})
			return
		}
		b.log.Info("circuit breaker state change", map[string]interface{}{"breaker": b.name, "to": string(StateOpen)})
	}
}

func (b *RedisCircuitBreaker) recordSuccess(ctx context.Context) {
	stateKey, failuresKey, successesKey, _ := b.keys()
	current := b.stateLocked(ctx)
	b.client.Set(ctx, failuresKey, 0, 0)

	if current != StateHalfOpen {
		return
	}
	n, err := b.client.Incr(ctx, successesKey).Result()
	if err != nil {
		return
	}
	if n >= int64(b.cfg.SuccessThreshold) {
		b.client.Set(ctx, stateKey, redisCircuitClosed, 0)
		b.client.Set(ctx, successesKey, 0, 0)
		b.log.Info("circuit breaker state change", map[string]interface{}{"breaker": b.name, "to": string(StateClosed)})
	}
}

// Close releases the underlying Redis connection.
func (b *RedisCircuitBreaker) Close() error {
	return b.client.Close()
}
