package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context persisted next to rows that are processed later
// (outbox events), so the consumer side can continue the same trace.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

// CaptureTraceContext serializes the span context carried by ctx.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

// TraceContextStrings is CaptureTraceContext for callers that store two columns.
func TraceContextStrings(ctx context.Context) (traceparent string, tracestate string) {
	tc := CaptureTraceContext(ctx)
	return tc.Traceparent, tc.Tracestate
}

// Restore attaches the persisted trace context to ctx. Empty values leave ctx untouched.
func (tc TraceContext) Restore(ctx context.Context) context.Context {
	if tc.Traceparent == "" && tc.Tracestate == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": tc.Traceparent,
		"tracestate":  tc.Tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func ContextWithTraceContext(ctx context.Context, traceparent string, tracestate string) context.Context {
	return TraceContext{Traceparent: traceparent, Tracestate: tracestate}.Restore(ctx)
}
