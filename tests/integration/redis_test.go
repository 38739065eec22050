//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
	redisstore "github.com/ramiqadoumi/go-task-kernel/internal/redis"
)

// newRedisClient returns a client connected to the test container and flushes
// the database on test cleanup so tests don't interfere with each other.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redisstore.NewClient(testRedisAddr)
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

func runningView(id int) kernel.TaskView {
	clk := clock.NewManual(10)
	tcb := domain.NewControlBlock(clk)
	tcb.MarkReady()
	tcb.MarkRunning()
	tcb.RecordSyscall(64)
	tcb.RecordSyscall(64)
	clk.Set(35)
	return kernel.TaskView{ID: id, Name: "writer", Snapshot: tcb.Snapshot()}
}

func TestRedis_SnapshotRoundTrip(t *testing.T) {
	store := redisstore.NewSnapshotStore(newRedisClient(t), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetSnapshot(ctx, "kernel-a", runningView(3)))

	got, err := store.GetSnapshot(ctx, "kernel-a", 3)
	require.NoError(t, err)
	assert.Equal(t, "kernel-a", got.KernelID)
	assert.Equal(t, "writer", got.Name)
	assert.Equal(t, domain.StatusRunning, got.Snapshot.Status())
	assert.Equal(t, uint32(2), got.Snapshot.SyscallCount(64))
	assert.Equal(t, uint64(25), got.Snapshot.ElapsedMillis())
	assert.True(t, got.Snapshot.Started())
	assert.False(t, got.ExportedAt.IsZero())
}

func TestRedis_GetSnapshot_NotFound(t *testing.T) {
	store := redisstore.NewSnapshotStore(newRedisClient(t), time.Minute)

	_, err := store.GetSnapshot(context.Background(), "kernel-a", 42)
	require.Error(t, err)

	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 42, notFound.TaskID)
}

func TestRedis_SnapshotsAreScopedByKernel(t *testing.T) {
	store := redisstore.NewSnapshotStore(newRedisClient(t), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetSnapshot(ctx, "kernel-a", runningView(0)))

	_, err := store.GetSnapshot(ctx, "kernel-b", 0)
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRedis_SnapshotExpires(t *testing.T) {
	store := redisstore.NewSnapshotStore(newRedisClient(t), 200*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.SetSnapshot(ctx, "kernel-a", runningView(1)))
	time.Sleep(400 * time.Millisecond)

	_, err := store.GetSnapshot(ctx, "kernel-a", 1)
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRedis_DeleteSnapshot(t *testing.T) {
	store := redisstore.NewSnapshotStore(newRedisClient(t), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetSnapshot(ctx, "kernel-a", runningView(2)))
	require.NoError(t, store.Delete(ctx, "kernel-a", 2))

	_, err := store.GetSnapshot(ctx, "kernel-a", 2)
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

// Rate limiter

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "within-limit")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "over-limit")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "over-limit")
	require.NoError(t, err)
	assert.False(t, ok, "4th request should be rate-limited")
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	window := 200 * time.Millisecond
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 2, window)
	ctx := context.Background()

	// Requests may straddle a bucket boundary, so only assert that the
	// counter resets once a full window has passed.
	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "expiry-key")
		require.NoError(t, err)
	}

	time.Sleep(window + 50*time.Millisecond)

	ok, err := limiter.Allow(ctx, "expiry-key")
	require.NoError(t, err)
	assert.True(t, ok, "should be allowed after window expires")
}

func TestRateLimiter_IndependentKeys(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 1, time.Minute)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, ok, "key-a should be limited")

	ok, err = limiter.Allow(ctx, "key-b")
	require.NoError(t, err)
	assert.True(t, ok, "key-b should be independent of key-a")
}
