package resilience

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relaymesh/orchestrator/core"
)

// CircuitState is the breaker's three-valued state.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig configures the consecutive-failure/consecutive-
// success state machine (defaults: failure_threshold=5,
// recovery_timeout=60s, success_threshold=3).
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
	Logger           core.Logger
}

// DefaultCircuitBreakerConfig returns conservative default thresholds.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		Logger:           &core.NoOpLogger{},
	}
}

// CircuitBreaker wraps github.com/sony/gobreaker's consecutive-count state
// machine: ReadyToTrip on N consecutive failures, Timeout as the
// open->half-open recovery window, MaxRequests as the half-open trial
// budget (see DESIGN.md).
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
	log  core.Logger
}

// NewCircuitBreaker constructs a breaker from config, defaulting any zero fields.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.SuccessThreshold,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    gobreakerStateName(from),
				"to":      gobreakerStateName(to),
			})
		},
	}

	return &CircuitBreaker{
		name: config.Name,
		cb:   gobreaker.NewCircuitBreaker(settings),
		log:  logger,
	}
}

func gobreakerStateName(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// State reports the current circuit state.
func (c *CircuitBreaker) State() CircuitState {
	return gobreakerStateName(c.cb.State())
}

// Execute runs fn through the breaker. A rejection (open, or half-open
// trial budget exhausted) is reported as core.ErrCircuitOpen.
func (c *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := c.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		counts := c.cb.Counts()
		return nil, fmt.Errorf("%s: %w (failures=%d)", c.name, core.ErrCircuitOpen, counts.ConsecutiveFailures)
	}
	return result, err
}

// Counts exposes the underlying consecutive failure/success counters for
// observability and tests.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}
