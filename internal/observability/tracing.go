// Package observability wires OTLP trace export onto Genkit's tracer
// provider.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/taxpilot/taxpilot/internal/config"
	"github.com/taxpilot/taxpilot/internal/log"
)

const shutdownTimeout = 5 * time.Second

// SetupTracing creates an OTLP HTTP exporter and registers it on Genkit's
// TracerProvider. Must run before genkit.Init so spans from the first
// request are captured. Returns a shutdown func; exporter failure disables
// tracing rather than failing startup.
func SetupTracing(ctx context.Context, cfg config.TelemetryConfig, logger log.Logger) func() {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	// Genkit's TracerProvider reads these at span creation.
	// SAFETY: os.Setenv is not concurrent-safe, but this runs exactly once
	// during startup, before goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
