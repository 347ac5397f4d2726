package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison using errors.Is(). Each corresponds to an
// error kind of the runtime's error-handling design: BadRequest,
// UpstreamUnavailable, UpstreamClientError, RateLimited, ParseError,
// Cancelled, InternalError.
var (
	// BadRequest
	ErrBadRequest = errors.New("bad request")

	// UpstreamUnavailable
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrTimeout             = errors.New("operation timeout")
	ErrMaxRetriesExceeded  = errors.New("maximum retries exceeded")

	// UpstreamClientError
	ErrUpstreamClientError = errors.New("upstream client error")
	ErrAgentNotFound       = errors.New("agent not found")

	// RateLimited
	ErrRateLimited = errors.New("rate limited")

	// ParseError
	ErrParse = errors.New("parse error")

	// Cancelled
	ErrCancelled = errors.New("cancelled")

	// InternalError
	ErrInternal             = errors.New("internal error")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
	ErrNotInitialized       = errors.New("not initialized")
)

// FrameworkError provides structured error information with context and
// supports error wrapping via errors.Unwrap.
type FrameworkError struct {
	Op      string // operation that failed, e.g. "router.ProcessMessage"
	Kind    string // error kind, one of the §7 kinds
	ID      string // optional id of the entity involved (agent name, session id)
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError wraps err as a FrameworkError of the given kind.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// Error kind constants classifying a FrameworkError's cause.
const (
	KindBadRequest          = "bad_request"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindUpstreamClientError = "upstream_client_error"
	KindRateLimited         = "rate_limited"
	KindParseError          = "parse_error"
	KindCancelled           = "cancelled"
	KindInternal            = "internal_error"
)

// IsRetryable reports whether err should be retried by the call wrapper.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsBadRequest reports a client-input error that should surface as HTTP 400.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsUpstreamClientError reports a non-retryable JSON-RPC error body from a specialist.
func IsUpstreamClientError(err error) bool {
	return errors.Is(err, ErrUpstreamClientError) || errors.Is(err, ErrAgentNotFound)
}

// IsCancelled reports context cancellation, which must never be retried or
// counted as a circuit-breaker failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsConfigurationError reports a startup/configuration problem.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}
