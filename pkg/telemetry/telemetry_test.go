package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNew_Disabled(t *testing.T) {
	var buf bytes.Buffer
	tel, err := New(context.Background(), Options{ServiceName: "test", LogFormat: LogFormatJSON, Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	_, span := tel.Tracer.Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()

	tel.Logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"service":"test"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("ECSDB_OTEL_LOG_LEVEL", "warn")
	t.Setenv("ECSDB_OTEL_LOG_FORMAT", "json")

	var buf bytes.Buffer
	tel, err := New(context.Background(), Options{ServiceName: "test", Output: &buf})
	require.NoError(t, err)

	tel.Logger.Info().Msg("dropped")
	tel.Logger.Warn().Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "log level", key: "ECSDB_OTEL_LOG_LEVEL", value: "loud"},
		{name: "log format", key: "ECSDB_OTEL_LOG_FORMAT", value: "xml"},
		{name: "sample rate", key: "ECSDB_OTEL_TRACE_SAMPLE_RATE", value: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := New(context.Background(), Options{ServiceName: "test"})
			require.Error(t, err)
		})
	}
}

func TestNew_RequiresServiceName(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	tel, err := New(context.Background(), Options{ServiceName: "test", LogFormat: LogFormatJSON, Output: &buf})
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	logger := tel.WithTrace(ctx)
	logger.Info().Msg("traced")

	assert.Contains(t, buf.String(), spanCtx.TraceID().String())
	assert.Contains(t, buf.String(), spanCtx.SpanID().String())
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogFormatJSON, ParseLogFormat("JSON"))
	assert.Equal(t, LogFormatPretty, ParseLogFormat("pretty"))
	assert.Equal(t, LogFormatUndefined, ParseLogFormat("xml"))
	assert.Equal(t, "pretty", LogFormatPretty.String())
}
