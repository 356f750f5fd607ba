// Package tracing wires OpenTelemetry spans around the generation
// phases so long runs can be inspected in Jaeger.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the OpenTelemetry tracer used across a run.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Config holds tracing configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
}

// NewTracer builds the tracer; with an empty endpoint all spans become
// no-ops, which keeps the call sites unconditional.
func NewTracer(config Config) (*Tracer, error) {
	if config.JaegerEndpoint == "" {
		return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("petrel")}, nil
	}
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Tracer{tracer: otel.Tracer(config.ServiceName), provider: tp}, nil
}

// StartPhase opens a span for one generation phase: instrumentation,
// cluster construction, search, or assertion generation.
func (t *Tracer) StartPhase(ctx context.Context, phase, module string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "petrel."+phase, trace.WithAttributes(
		attribute.String("petrel.module", module),
		attribute.String("petrel.phase", phase),
	))
}

// StartSearchSpan opens the span around the whole evolutionary loop.
func (t *Tracer) StartSearchSpan(ctx context.Context, algorithm string, goals int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "petrel.search", trace.WithAttributes(
		attribute.String("petrel.algorithm", algorithm),
		attribute.Int("petrel.goals", goals),
	))
}

// RecordSearchResult annotates the search span with the outcome.
func RecordSearchResult(span trace.Span, coverage float64, iterations int, wall time.Duration) {
	span.SetAttributes(
		attribute.Float64("petrel.coverage", coverage),
		attribute.Int("petrel.iterations", iterations),
		attribute.Float64("petrel.wall_ms", float64(wall.Nanoseconds())/1e6),
	)
}

// RecordSpanError records an error in a span.
func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(1, err.Error())
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
