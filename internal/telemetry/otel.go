// Package telemetry implements core.Telemetry with OpenTelemetry tracing:
// resource + exporter + batch processor + TracerProvider wiring, using
// otlptracegrpc for production and stdouttrace for local development, plus
// metrics recorded through the otel/metric API directly, since no metrics
// SDK (otel/sdk/metric) is part of this module's dependency set.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/orchestrator/core"
)

// Config selects how traces are exported.
type Config struct {
	ServiceName string
	Endpoint    string // OTLP/gRPC endpoint, e.g. "otel-collector:4317"
	DevMode     bool   // true: export traces to stdout instead of OTLP
}

// Provider implements core.Telemetry, wrapping an OpenTelemetry
// TracerProvider and a metric.Meter.
type Provider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider
	counters      map[string]metric.Float64Counter
	mu            sync.Mutex
}

// NewProvider builds a Provider from cfg, registering it as the global
// OpenTelemetry tracer provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestrator"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, core.NewFrameworkError("telemetry.NewProvider", core.KindInternal, err)
	}

	var processor sdktrace.SpanProcessor
	if cfg.DevMode || cfg.Endpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, core.NewFrameworkError("telemetry.NewProvider", core.KindInternal, err)
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	} else {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, core.NewFrameworkError("telemetry.NewProvider", core.KindInternal, err)
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer:        tp.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		traceProvider: tp,
		counters:      make(map[string]metric.Float64Counter),
	}, nil
}

// StartSpan implements core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &spanWrapper{span: span}
}

// RecordMetric implements core.Telemetry, lazily creating a Float64Counter
// instrument per metric name. Without a metrics SDK registered, this is a
// no-op sink that still exercises the same call path production code would
// use once one is wired in.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		var err error
		counter, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = counter
	}
	p.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

// Shutdown flushes and closes the underlying TracerProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.traceProvider.Shutdown(ctx)
}

type spanWrapper struct {
	span trace.Span
}

func (s *spanWrapper) End() {
	s.span.End()
}

func (s *spanWrapper) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, ""))
	}
}

func (s *spanWrapper) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

var _ core.Telemetry = (*Provider)(nil)
var _ core.Span = (*spanWrapper)(nil)
