// Package tracing wraps OpenTelemetry span creation for the gateway's
// request pipeline, follows the established internal/observability
// Tracer wrapper (Start/StartSpan convenience methods over an
// otel.Tracer). Unlike a setup that exports to an OTLP collector,
// this gateway has no such collector dependency declared, so spans are
// drained by a small exporter that logs a summary line per span via
// log/slog — still real OpenTelemetry spans, context propagation, and
// sampling, just a different sink.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls tracer construction.
type Config struct {
	ServiceName string
	Enabled     bool
}

// Tracer is a thin wrapper over an otel.Tracer, in the same shape as the established
// Start/StartSpan convenience shape.
type Tracer struct {
	tracer trace.Tracer
}

// New builds a Tracer. When cfg.Enabled is false the returned tracer is
// the global no-op implementation: Start still works, spans just
// record nothing.
func New(cfg Config, logger *slog.Logger) (*Tracer, func(context.Context) error) {
	name := cfg.ServiceName
	if name == "" {
		name = "ccr-gateway"
	}
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(name)}, func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", name),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(newLoggingExporter(logger)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(name)}, provider.Shutdown
}

// Start begins a span, in the same shape as the established tracer.Start signature.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// loggingExporter is a minimal sdktrace.SpanExporter that writes one
// debug-level log line per exported span instead of shipping to a
// collector.
type loggingExporter struct {
	logger *slog.Logger
}

func newLoggingExporter(logger *slog.Logger) *loggingExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingExporter{logger: logger.With("component", "tracing")}
}

func (e *loggingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.logger.Debug("span",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration", s.EndTime().Sub(s.StartTime()).Round(time.Microsecond),
			"status", s.Status().Code.String(),
		)
	}
	return nil
}

func (e *loggingExporter) Shutdown(ctx context.Context) error { return nil }
