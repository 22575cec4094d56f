package pubsub

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "roomsync-pubsub"

// TracingConfig holds configuration for feed tracing.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	ZipkinURL   string
}

// SetupTracing returns a tracer exporting to Zipkin, or a no-op tracer when
// tracing is disabled. The returned cleanup flushes pending spans.
func SetupTracing(ctx context.Context, cfg TracingConfig) (trace.Tracer, func(), error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer(tracerName), func() {}, nil
	}

	exporter, err := zipkin.New(cfg.ZipkinURL)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}
	return tp.Tracer(tracerName), cleanup, nil
}
