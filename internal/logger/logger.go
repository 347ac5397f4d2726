// Package logger provides a slog-backed, trace-correlated implementation
// of core.ComponentAwareLogger, built on a trace-id-from-context pattern
// generalized with a component field instead of a single fixed logger
// instance (see DESIGN.md AMBIENT STACK).
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/relaymesh/orchestrator/core"
)

type traceIDKey struct{}

// TraceIDKey is the context key carrying a trace/correlation id,
// propagated from the inbound request (e.g. X-Trace-ID) or an
// OpenTelemetry span.
var TraceIDKey = traceIDKey{}

// WithTraceID attaches a trace id to ctx for later extraction by Logger.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// Logger wraps a *slog.Logger, implementing core.ComponentAwareLogger.
type Logger struct {
	slog      *slog.Logger
	component string
}

// Config selects the output format/destination.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output *os.File
}

// New constructs a root Logger from Config, defaulting to JSON-on-stdout
// at info level.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &Logger{slog: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent implements core.ComponentAwareLogger, returning a logger
// that tags every record with the given component for log filtering
// (e.g. jq 'select(.component == "framework/orchestration")').
func (l *Logger) WithComponent(component string) core.Logger {
	return &Logger{slog: l.slog.With("component", component), component: component}
}

func (l *Logger) fieldsToArgs(fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l *Logger) Info(msg string, fields map[string]interface{})  { l.slog.Info(msg, l.fieldsToArgs(fields)...) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.slog.Error(msg, l.fieldsToArgs(fields)...) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.slog.Warn(msg, l.fieldsToArgs(fields)...) }
func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.slog.Debug(msg, l.fieldsToArgs(fields)...) }

func (l *Logger) withTrace(ctx context.Context) *slog.Logger {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok || traceID == "" {
		return l.slog
	}
	return l.slog.With("trace_id", traceID)
}

func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withTrace(ctx).Info(msg, l.fieldsToArgs(fields)...)
}
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withTrace(ctx).Error(msg, l.fieldsToArgs(fields)...)
}
func (l *Logger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withTrace(ctx).Warn(msg, l.fieldsToArgs(fields)...)
}
func (l *Logger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.withTrace(ctx).Debug(msg, l.fieldsToArgs(fields)...)
}

// LogCircuitBreakerStateChange logs a structured circuit-breaker
// transition via a dedicated helper for this event.
func LogCircuitBreakerStateChange(l core.Logger, breakerName, from, to string) {
	l.Info("circuit breaker state change", map[string]interface{}{
		"breaker": breakerName,
		"from":    from,
		"to":      to,
	})
}

var _ core.ComponentAwareLogger = (*Logger)(nil)
