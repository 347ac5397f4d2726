package resilience

import (
	"github.com/relaymesh/orchestrator/core"
)

// Dependencies holds the optional cross-cutting collaborators every
// resilience component accepts, following a dependency-injection-over-
// globals convention (see DESIGN.md's rejection of the package-level
// metrics registry).
type Dependencies struct {
	Logger    core.Logger
	Telemetry core.Telemetry
	Redis     *RedisStateConfig
}

func (d Dependencies) logger() core.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return &core.NoOpLogger{}
}

func (d Dependencies) telemetry() core.Telemetry {
	if d.Telemetry != nil {
		return d.Telemetry
	}
	return &core.NoOpTelemetry{}
}

// DependencyOption configures Dependencies when building a CallWrapper.
type DependencyOption func(*Dependencies)

// WithLogger injects a logger into the dependency set.
func WithLogger(logger core.Logger) DependencyOption {
	return func(d *Dependencies) { d.Logger = logger }
}

// WithTelemetry injects a telemetry sink into the dependency set.
func WithTelemetry(telemetry core.Telemetry) DependencyOption {
	return func(d *Dependencies) { d.Telemetry = telemetry }
}

// WithRedis activates distributed RateState/CircuitState backed by Redis
// instead of the in-memory defaults, for deployments running more than
// one replica of this service behind the same rate/circuit ceilings. If
// the Redis connection can't be established, NewResilientCallWrapper logs
// the failure and falls back to the in-memory implementations rather than
// failing construction, since distributed state is an optional
// enhancement over a working single-replica default.
func WithRedis(cfg RedisStateConfig) DependencyOption {
	return func(d *Dependencies) { d.Redis = &cfg }
}

// NewResilientCallWrapper assembles the full C1 stack — circuit breaker,
// rate tracker, retry policy, and usage monitor — from a resilience
// config and dependency options. This is the constructor callers outside
// this package should use rather than wiring CircuitBreaker/RateTracker/
// Retry together by hand.
func NewResilientCallWrapper(name string, cfg *core.ResilienceConfig, opts ...DependencyOption) *CallWrapper {
	var deps Dependencies
	for _, opt := range opts {
		opt(&deps)
	}
	logger := deps.logger()
	telemetry := deps.telemetry()

	if cfg == nil {
		defaults := core.DefaultConfig().Resilience
		cfg = &defaults
	}

	breakerConfig := &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: uint32(cfg.CircuitFailureThreshold),
		RecoveryTimeout:  cfg.CircuitRecoveryTimeout,
		SuccessThreshold: uint32(cfg.CircuitSuccessThreshold),
		Logger:           logger,
	}
	rateConfig := &RateLimitConfig{
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		MinRequestInterval:    cfg.MinRequestInterval,
		RequestsPerMinute:     cfg.RequestsPerMinute,
		TokensPerMinute:       cfg.TokensPerMinute,
	}

	var breaker Breaker
	var rate RateLimiter
	if deps.Redis != nil {
		if redisBreaker, err := NewRedisCircuitBreaker(*deps.Redis, breakerConfig, logger); err != nil {
			logger.Error("resilience: redis circuit breaker unavailable, falling back to in-memory", map[string]interface{}{
				"wrapper": name, "error": err.Error(),
			})
		} else {
			breaker = redisBreaker
		}
		if redisRate, err := NewRedisRateLimiter(*deps.Redis, rateConfig, logger); err != nil {
			logger.Error("resilience: redis rate limiter unavailable, falling back to in-memory", map[string]interface{}{
				"wrapper": name, "error": err.Error(),
			})
		} else {
			rate = redisRate
		}
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(breakerConfig)
	}
	if rate == nil {
		rate = NewRateTracker(rateConfig, logger)
	}

	retry := &RetryConfig{
		MaxAttempts:   cfg.MaxRetries,
		InitialDelay:  cfg.InitialBackoff,
		MaxDelay:      cfg.MaxBackoff,
		BackoffFactor: 2.0,
		JitterEnabled: cfg.BackoffJitter > 0,
	}

	usage := NewUsageMonitor(1000)

	return NewCallWrapper(name, breaker, rate, retry, usage, logger, telemetry)
}
