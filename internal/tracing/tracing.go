// Package tracing carries W3C trace context across the job queue.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by the service.
const InstrumentationName = "github.com/allenai/infinigram-api"

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Carrier is the header map stored alongside a job. A nil or empty carrier is
// valid and means "no parent".
type Carrier map[string]string

// Setup installs the propagator globally so libraries that use the otel
// globals agree with the queue carrier format.
func Setup() {
	otel.SetTextMapPropagator(propagator)
}

// Tracer returns the service tracer. Without an SDK installed spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Inject writes the span context of ctx into a new carrier.
func Inject(ctx context.Context) Carrier {
	c := Carrier{}
	propagator.Inject(ctx, propagation.MapCarrier(c))
	return c
}

// Extract returns ctx with the remote span context from c attached.
func Extract(ctx context.Context, c Carrier) context.Context {
	if len(c) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(c))
}
