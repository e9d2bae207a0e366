package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders returns headers with the W3C trace context of ctx set, replacing
// any trace headers already present.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return headers
	}

	out := make([]kafka.Header, 0, len(headers)+len(carrier))
	for _, h := range headers {
		if _, replaced := carrier[h.Key]; !replaced {
			out = append(out, h)
		}
	}
	for _, k := range carrier.Keys() {
		out = append(out, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}
	return out
}

// ExtractTraceContext continues the trace carried in the message headers, if any.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	carrier := make(propagation.MapCarrier, len(msg.Headers))
	for _, h := range msg.Headers {
		carrier.Set(h.Key, string(h.Value))
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
