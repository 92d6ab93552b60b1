package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 for the whole process ("" service name).
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewHealthServer builds a gRPC server carrying only the standard health service, instrumented
// with otel and the request-id interceptors.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerAccessLogInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{srv: srv, health: hs, logger: logger}
}

// SetServing flips the overall serving status.
func (h *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", st)
}

// Watch re-evaluates check every interval and publishes the result as serving status until
// ctx is done.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	probe := func() {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := check(cctx)
		if err != nil {
			h.logger.Warn("grpc health check failing", "err", err)
		}
		h.SetServing(err == nil)
	}
	probe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// Serve listens on addr until ctx is cancelled, then stops gracefully.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (h *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		h.health.Shutdown()
		h.srv.GracefulStop()
	}()
	h.logger.Info("grpc server starting", "addr", lis.Addr().String())
	return h.srv.Serve(lis)
}
