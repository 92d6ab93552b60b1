package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext is the W3C trace context stored beside an outbox row so the relay can
// publish the event as part of the request trace that wrote it.
type TraceContext struct {
	Parent string // traceparent header value
	State  string // tracestate header value
}

// Outbox rows always use W3C headers, whatever the process-wide propagator is.
var w3c propagation.TraceContext

// CaptureTraceContext returns the trace context of the span in ctx, or the zero value
// when ctx carries no valid span.
func CaptureTraceContext(ctx context.Context) TraceContext {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return TraceContext{}
	}
	carrier := propagation.HeaderCarrier{}
	w3c.Inject(ctx, carrier)
	return TraceContext{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

// Attach returns ctx with tc as its remote parent. A zero or malformed tc leaves ctx unchanged.
func (tc TraceContext) Attach(ctx context.Context) context.Context {
	if tc.Parent == "" {
		return ctx
	}
	carrier := propagation.HeaderCarrier{}
	carrier.Set("traceparent", tc.Parent)
	if tc.State != "" {
		carrier.Set("tracestate", tc.State)
	}
	return w3c.Extract(ctx, carrier)
}
