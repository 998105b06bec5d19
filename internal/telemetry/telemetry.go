// Package telemetry emits per-turn trace records and wires OpenTelemetry
// span export over OTLP HTTP. Trace records feed offline evaluation and
// regression detection; spans feed whatever APM backend the collector
// forwards to.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config for the OTLP exporter.
type Config struct {
	// Endpoint is the OTLP HTTP collector endpoint (default: localhost:4318).
	Endpoint string
	// ServiceName tags exported spans.
	ServiceName string
	// Enabled gates span export entirely.
	Enabled bool
}

// DefaultEndpoint is the standard OTLP HTTP port on a local collector.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP HTTP exporter and returns the tracer plus a
// shutdown function that flushes pending spans. Exporter failures disable
// tracing rather than failing startup.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (trace.Tracer, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		return otel.GetTracerProvider().Tracer("twincore"), noShutdown, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("otlp exporter unavailable, tracing disabled", "error", err)
		return otel.GetTracerProvider().Tracer("twincore"), noShutdown, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
	)
	return tp.Tracer("twincore"), tp.Shutdown, nil
}
