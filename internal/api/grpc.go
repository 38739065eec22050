package api

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// KernelService is the health service name the kernel reports under, next to
// the server-wide "" entry.
const KernelService = "taskkernel.v1.Kernel"

// GRPCServer serves the standard gRPC health protocol and server reflection.
// Health follows the same ReadyChecks as /readyz.
type GRPCServer struct {
	srv      *grpc.Server
	health   *health.Server
	checks   []telemetry.ReadyCheck
	interval time.Duration
	logger   *slog.Logger
}

// GRPCOption configures a GRPCServer.
type GRPCOption func(*GRPCServer)

func WithHealthChecks(checks ...telemetry.ReadyCheck) GRPCOption {
	return func(g *GRPCServer) { g.checks = append(g.checks, checks...) }
}

// WithHealthInterval sets how often Serve re-runs the checks.
func WithHealthInterval(d time.Duration) GRPCOption {
	return func(g *GRPCServer) { g.interval = d }
}

func WithGRPCLogger(l *slog.Logger) GRPCOption {
	return func(g *GRPCServer) { g.logger = l }
}

// NewGRPCServer registers the health and reflection services.
func NewGRPCServer(opts ...GRPCOption) *GRPCServer {
	g := &GRPCServer{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		interval: 5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	healthpb.RegisterHealthServer(g.srv, g.health)
	reflection.Register(g.srv)
	return g
}

// Server exposes the underlying grpc.Server.
func (g *GRPCServer) Server() *grpc.Server { return g.srv }

// CheckHealth runs every check once and publishes the resulting status.
func (g *GRPCServer) CheckHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, check := range g.checks {
		if err := check(ctx); err != nil {
			g.logger.Warn("health check failed", slog.String("error", err.Error()))
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(KernelService, status)
	return status
}

// Serve accepts connections on lis until ctx is cancelled, re-running the
// health checks every interval, then stops gracefully.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	g.CheckHealth(ctx)
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.srv.GracefulStop()
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, g.interval)
				g.CheckHealth(checkCtx)
				cancel()
			}
		}
	}()
	return g.srv.Serve(lis)
}
