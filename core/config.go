package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the orchestration runtime. It follows a
// three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables
//  3. Functional options (highest priority)
type Config struct {
	Port      int    `json:"port"`
	Address   string `json:"address"`
	Namespace string `json:"namespace"`
	DevMode   bool   `json:"dev_mode"`

	HTTP       HTTPConfig       `json:"http"`
	Model      ModelConfig      `json:"model"`
	Agents     AgentsConfig     `json:"agents"`
	Resilience ResilienceConfig `json:"resilience"`
	Research   ResearchConfig   `json:"research"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Redis      RedisConfig      `json:"redis"`

	logger Logger `json:"-"`
}

// HTTPConfig configures the public API server.
type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"read_timeout"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	CORS              CORSConfig    `json:"cors"`
}

// CORSConfig mirrors core/cors.go's expectations.
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// ModelConfig configures the orchestrator-model client (C5/C6/C7/C8's
// "Coordinator"). Deployment/APIVersion exist for the Azure-OpenAI-shaped
// backend.
type ModelConfig struct {
	Provider   string `json:"provider"` // "openai" or "bedrock"
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"-"`
	Name       string `json:"name"`
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
	Region     string `json:"region,omitempty"` // bedrock
}

// AgentsConfig configures the specialist roster.
type AgentsConfig struct {
	BaseURLs []string `json:"base_urls"`
	File     string   `json:"file,omitempty"`
}

// ResilienceConfig configures C1's rate limiter, retry policy, and circuit
// breaker (see DESIGN.md).
type ResilienceConfig struct {
	MaxConcurrentRequests int           `json:"max_concurrent_requests"`
	RequestsPerMinute     int           `json:"requests_per_minute"`
	TokensPerMinute       int           `json:"tokens_per_minute"`
	MinRequestInterval    time.Duration `json:"min_request_interval"`

	MaxRetries      int           `json:"max_retries"`
	InitialBackoff  time.Duration `json:"initial_backoff"`
	MaxBackoff      time.Duration `json:"max_backoff"`
	BackoffJitter   float64       `json:"backoff_jitter"`

	CircuitFailureThreshold int           `json:"circuit_failure_threshold"`
	CircuitRecoveryTimeout  time.Duration `json:"circuit_recovery_timeout"`
	CircuitSuccessThreshold int           `json:"circuit_success_threshold"`
}

// ResearchConfig configures C7.
type ResearchConfig struct {
	MaxRounds int `json:"max_rounds"`
}

// TelemetryConfig configures the OpenTelemetry wiring.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name"`
}

// RedisConfig configures the optional distributed state backing.
type RedisConfig struct {
	URL string `json:"url,omitempty"`
}

// Option mutates a Config at construction time; the highest-priority layer.
type Option func(*Config) error

// DefaultConfig returns the lowest-priority defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:      8080,
		Namespace: "default",
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second, // accommodates SSE
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORS:              *DefaultCORSConfig(),
		},
		Model: ModelConfig{
			Provider: "openai",
			Name:     "gpt-4o",
		},
		Resilience: ResilienceConfig{
			MaxConcurrentRequests:   3,
			RequestsPerMinute:       60,
			TokensPerMinute:         150000,
			MinRequestInterval:      100 * time.Millisecond,
			MaxRetries:              3,
			InitialBackoff:          1 * time.Second,
			MaxBackoff:              30 * time.Second,
			BackoffJitter:           0.1,
			CircuitFailureThreshold: 5,
			CircuitRecoveryTimeout:  60 * time.Second,
			CircuitSuccessThreshold: 3,
		},
		Research: ResearchConfig{
			MaxRounds: 12,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "orchestrator",
		},
	}
}

// LoadFromEnv overlays environment variables onto the receiver using an
// explicit-field os.Getenv idiom rather than reflection-based tag
// parsing.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return NewFrameworkError("Config.LoadFromEnv", KindInternal, fmt.Errorf("%s: %w", EnvPort, ErrInvalidConfiguration))
		}
		c.Port = p
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.DevMode = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		c.Namespace = v
	}

	if v := os.Getenv(EnvModelProvider); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv(EnvModelEndpoint); v != "" {
		c.Model.Endpoint = v
	}
	if v := os.Getenv(EnvModelAPIKey); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv(EnvModelName); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv(EnvModelDeployment); v != "" {
		c.Model.Deployment = v
	}
	if v := os.Getenv(EnvModelAPIVersion); v != "" {
		c.Model.APIVersion = v
	}

	if v := os.Getenv(EnvAgentBaseURLs); v != "" {
		c.Agents.BaseURLs = splitAndTrim(v)
	}
	if v := os.Getenv(EnvAgentsFile); v != "" {
		c.Agents.File = v
	}

	if v := os.Getenv(EnvMaxConcurrentRequests); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			c.Resilience.MaxConcurrentRequests = n
		}
	}
	if v := os.Getenv(EnvRequestsPerMinute); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.RequestsPerMinute = n
		}
	}
	if v := os.Getenv(EnvTokensPerMinute); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.TokensPerMinute = n
		}
	}
	if v := os.Getenv(EnvMinRequestInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.MinRequestInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvInitialBackoffSeconds); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Resilience.InitialBackoff = time.Duration(n * float64(time.Second))
		}
	}
	if v := os.Getenv(EnvMaxBackoffSeconds); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Resilience.MaxBackoff = time.Duration(n * float64(time.Second))
		}
	}
	if v := os.Getenv(EnvCircuitFailureThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.CircuitFailureThreshold = n
		}
	}
	if v := os.Getenv(EnvCircuitRecoveryTimeout); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Resilience.CircuitRecoveryTimeout = time.Duration(n * float64(time.Second))
		}
	}
	if v := os.Getenv(EnvCircuitSuccessThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.CircuitSuccessThreshold = n
		}
	}
	if v := os.Getenv(EnvMaxResearchRounds); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Research.MaxRounds = n
		}
	}

	if v := os.Getenv(EnvTelemetryEnabled); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvTelemetryEndpoint); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv(EnvTelemetryServiceName); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}

	c.DetectEnvironment()
	return nil
}

// DetectEnvironment adjusts defaults for Kubernetes execution via the
// standard KUBERNETES_SERVICE_HOST auto-detection.
func (c *Config) DetectEnvironment() {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		if c.Address == "" {
			c.Address = "0.0.0.0"
		}
	}
}

// NewConfig builds a Config by applying defaults, then environment
// variables, then the given options, in that priority order.
func NewConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithLogger attaches a logger used for configuration diagnostics.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithPort overrides the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithAgentBaseURLs overrides the specialist roster.
func WithAgentBaseURLs(urls []string) Option {
	return func(c *Config) error {
		c.Agents.BaseURLs = urls
		return nil
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
