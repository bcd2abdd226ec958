package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/smartcondo/condo-portal/libs/auth"
	"github.com/smartcondo/condo-portal/libs/config"
	"github.com/smartcondo/condo-portal/libs/grpcx"
	"github.com/smartcondo/condo-portal/libs/httpx"
	otelx "github.com/smartcondo/condo-portal/libs/otel"
	"github.com/smartcondo/condo-portal/libs/runtime"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/condoapi"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/handlers"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/portal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe the local gRPC health endpoint and exit")
	flag.Parse()

	if err := config.Load(config.String("PORTAL_CONFIG", "")); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "portal-service")

	if *healthcheck {
		os.Exit(probe(service))
	}

	logger := runtime.NewLoggerTo(os.Stdout, service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg := otelx.ConfigFromEnv(service)
	otelCfg.Logger = logger
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		otelShutdown = nil
	}

	port, err := config.Port("PORT", "8080")
	if err != nil {
		logger.Error("invalid PORT", "err", err)
		os.Exit(1)
	}
	backendURL, err := config.RequiredString("CONDO_API_URL")
	if err != nil {
		logger.Error("backend url missing", "err", err)
		os.Exit(1)
	}
	backend, err := condoapi.New(condoapi.Options{
		BaseURL:        backendURL,
		Timeout:        config.Duration("CONDO_API_TIMEOUT", 10*time.Second),
		MaxTries:       uint(config.Int("CONDO_API_MAX_TRIES", 3, 1)),
		InitialBackoff: config.Duration("CONDO_API_BACKOFF", 200*time.Millisecond),
	})
	if err != nil {
		logger.Error("backend client", "err", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(config.String("TIMEZONE", "America/La_Paz"))
	if err != nil {
		logger.Error("invalid TIMEZONE", "err", err)
		os.Exit(1)
	}

	infra, err := openDeps(ctx, logger)
	if err != nil {
		logger.Error("dependencies unavailable", "err", err)
		os.Exit(1)
	}
	defer infra.close()

	svc := portal.NewService(backend, infra.cache, infra.auditor, logger, portal.Config{
		Location:         loc,
		MonthConcurrency: config.Int("MONTH_CONCURRENCY", 6, 1),
	})

	mux := runtime.NewBaseMuxWithReady(infra.readyChecks...)
	handlers.NewPortalHandler(svc, logger).Register(mux)

	var rateLimitMW httpx.Middleware
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120, 1)
	if infra.redis != nil {
		rl := httpx.NewRedisRateLimiter(infra.redis, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "portal:rl")).
			KeyedBy(sessionKey(svc.KnownSession))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute)
	} else {
		rateLimitMW = httpx.NewRateLimiter(limitPerMinute, time.Minute).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PATCH,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key"),
			ExposedHeaders:   []string{httpx.RequestIDHeader, "Retry-After"},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20, 1024))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "portal")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	grpcStop, health, err := startGrpcServer(logger, service)
	if err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	infra.startPublisher(ctx, logger)

	<-ctx.Done()
	if health != nil {
		health.Shutdown()
	}
	err = runtime.Shutdown(10*time.Second,
		srv.Shutdown,
		grpcStop,
		otelShutdown,
	)
	if err != nil {
		logger.Error("shutdown error", "err", err)
	}
	logger.Info("portal stopped")
}

// sessionKey buckets callers by session once the backend has accepted it. Everyone
// else, including made-up tokens, is bucketed by address.
func sessionKey(known func(context.Context, auth.Session) bool) func(*http.Request) string {
	return func(r *http.Request) string {
		sess, err := auth.ParseAuthorization(r.Header.Get("Authorization"))
		if err != nil || !known(r.Context(), sess) {
			return ""
		}
		return "s:" + sess.Fingerprint()
	}
}

func probe(service string) int {
	port := config.String("GRPC_PORT", "9090")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	status, err := grpcx.Probe(ctx, "127.0.0.1:"+port, service, grpcx.DialOptions{Timeout: 2 * time.Second})
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		fmt.Fprintln(os.Stderr, "healthcheck:", status)
		return 1
	}
	return 0
}
