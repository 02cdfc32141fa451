// Package telemetry sets up logging and tracing for ecsdb binaries. Tracing is off unless enabled
// through Options or the ECSDB_OTEL_ENABLED environment variable; the World's spans then flow to an
// OTLP collector.
package telemetry

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Telemetry struct {
	Logger zerolog.Logger
	Tracer trace.Tracer

	shutdown func(context.Context) error
}

func New(ctx context.Context, opts Options) (Telemetry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load telemetry config")
	}

	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	tracer, logger, shutdown, err := setup(ctx, options)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup telemetry")
	}
	return Telemetry{Logger: logger, Tracer: tracer, shutdown: shutdown}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// WithTrace returns a logger enriched with the trace and span ids of the span in ctx, if any.
func (t *Telemetry) WithTrace(ctx context.Context) zerolog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return t.Logger
	}
	spanCtx := span.SpanContext()
	return t.Logger.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
}
