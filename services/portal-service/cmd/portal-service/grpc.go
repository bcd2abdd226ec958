package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/smartcondo/condo-portal/libs/config"
	"github.com/smartcondo/condo-portal/libs/grpcx"
	"google.golang.org/grpc/health"
)

// startGrpcServer serves the standard health service so orchestrators and the
// -healthcheck flag can probe the portal without going through HTTP.
func startGrpcServer(logger *slog.Logger, service string) (func(context.Context) error, *health.Server, error) {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return nil, nil, err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, err
	}

	srv, hs := grpcx.NewHealthServer(logger, service)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	stop := func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}
	return stop, hs, nil
}
