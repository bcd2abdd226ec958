package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/smartcondo/condo-portal/libs/httpx"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestHealthServerProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, hs := NewHealthServer(slog.New(slog.NewTextHandler(io.Discard, nil)), "portal")
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	st, err := Probe(context.Background(), lis.Addr().String(), "portal", DialOptions{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", st)
	}

	hs.SetServingStatus("portal", healthpb.HealthCheckResponse_NOT_SERVING)
	st, err = Probe(context.Background(), lis.Addr().String(), "portal", DialOptions{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", st)
	}
}

func TestServerRequestIDInterceptor(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-1"))
	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x"}, func(ctx context.Context, req any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "req-1" {
		t.Fatalf("expected req-1, got %q", seen)
	}
}

func TestServerRequestIDInterceptorMintsID(t *testing.T) {
	var seen string
	_, err := UnaryServerRequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x"}, func(ctx context.Context, req any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(seen) != 36 {
		t.Fatalf("expected a uuid request id, got %q", seen)
	}
}

func TestClientRequestIDInterceptor(t *testing.T) {
	ctx := httpx.ContextWithRequestID(context.Background(), "http-id")
	err := UnaryClientRequestIDInterceptor()(ctx, "/x", nil, nil, nil, func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		if got := md.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "http-id" {
			t.Fatalf("unexpected outgoing metadata %v", md)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
}

func TestLoggingInterceptorRecovers(t *testing.T) {
	_, err := UnaryServerLoggingInterceptor(slog.New(slog.NewTextHandler(io.Discard, nil)))(
		context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/boom"},
		func(context.Context, any) (any, error) { panic("boom") },
	)
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
}
