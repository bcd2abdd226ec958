package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestSetupDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false, ServiceName: "portal-test"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	ctx := Carried{Parent: parent}.Restore(context.Background())
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected extracted span context, got %+v", sc)
	}

	if got := Capture(ctx); got.Parent != parent || got.State != "" {
		t.Fatalf("expected traceparent round trip, got %+v", got)
	}
}

func TestRestoreWithoutParent(t *testing.T) {
	ctx := context.Background()
	if got := (Carried{State: "vendor=1"}).Restore(ctx); got != ctx {
		t.Fatal("expected context unchanged without traceparent")
	}
}

func TestParseRatio(t *testing.T) {
	cases := map[string]float64{"0.25": 0.25, "2": 1, "-1": 1, "x": 1, "0": 0}
	for in, want := range cases {
		if got := parseRatio(in); got != want {
			t.Fatalf("parseRatio(%q) = %v, want %v", in, got, want)
		}
	}
}
