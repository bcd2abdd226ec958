package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Carried is a span context serialized as W3C trace headers, stored next to a row so
// the process that later acts on the row continues the same trace.
type Carried struct {
	Parent string
	State  string
}

func Capture(ctx context.Context) Carried {
	m := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, m)
	return Carried{Parent: m.Get("traceparent"), State: m.Get("tracestate")}
}

// Restore returns ctx unchanged when nothing was captured.
func (c Carried) Restore(ctx context.Context) context.Context {
	if c.Parent == "" {
		return ctx
	}
	m := propagation.MapCarrier{"traceparent": c.Parent}
	if c.State != "" {
		m["tracestate"] = c.State
	}
	return otel.GetTextMapPropagator().Extract(ctx, m)
}
