package otelx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_ENABLED", "")
	cfg := ConfigFromEnv("booking-service")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "booking-service", cfg.ServiceName)

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	cfg = ConfigFromEnv("booking-service")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 0.25, cfg.SampleRatio)
}

func TestTraceContextRoundTrip(t *testing.T) {
	// No Setup: outbox rows carry W3C headers even when no global propagator is installed.
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tc := CaptureTraceContext(ctx)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", tc.Parent)
	assert.Empty(t, tc.State)

	restored := trace.SpanContextFromContext(tc.Attach(context.Background()))
	assert.True(t, restored.IsRemote())
	assert.Equal(t, traceID, restored.TraceID())
	assert.Equal(t, spanID, restored.SpanID())
}

func TestTraceContextWithoutSpan(t *testing.T) {
	assert.Equal(t, TraceContext{}, CaptureTraceContext(context.Background()))

	ctx := context.Background()
	assert.Equal(t, ctx, TraceContext{}.Attach(ctx))
	malformed := TraceContext{Parent: "not-a-traceparent"}.Attach(ctx)
	assert.False(t, trace.SpanContextFromContext(malformed).IsValid())
}
