package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ramiqadoumi/go-task-kernel/internal/api"
)

func newHealthClient(t *testing.T, g *api.GRPCServer) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return healthpb.NewHealthClient(conn)
}

func TestGRPCHealth_FollowsReadyChecks(t *testing.T) {
	var redisDown atomic.Bool
	g := api.NewGRPCServer(
		api.WithGRPCLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		api.WithHealthInterval(time.Hour),
		api.WithHealthChecks(func(context.Context) error {
			if redisDown.Load() {
				return errors.New("redis: connection refused")
			}
			return nil
		}),
	)
	ctx := context.Background()
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, g.CheckHealth(ctx))
	client := newHealthClient(t, g)

	for _, svc := range []string{"", api.KernelService} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), "service %q", svc)
	}

	redisDown.Store(true)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, g.CheckHealth(ctx))

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: api.KernelService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPCServer_RegistersHealthAndReflection(t *testing.T) {
	info := api.NewGRPCServer().Server().GetServiceInfo()
	assert.Contains(t, info, healthpb.Health_ServiceDesc.ServiceName)
	assert.Contains(t, info, "grpc.reflection.v1.ServerReflection")
}
