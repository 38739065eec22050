//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/postgres"
)

// newRepo creates a repository connected to the test Postgres container
// and truncates the table on cleanup.
func newRepo(t *testing.T) postgres.ExitRepository {
	t.Helper()
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE task_exits") //nolint:errcheck
		pool.Close()
	})
	return postgres.NewExitRepository(pool)
}

func makeExit(kernelID string, code int, at time.Time) *domain.ExitRecord {
	clk := clock.NewManual(1000)
	tcb := domain.NewControlBlock(clk)
	tcb.MarkReady()
	tcb.MarkRunning()
	tcb.RecordSyscall(64)
	tcb.RecordSyscall(93)
	tcb.MarkExited()
	clk.Set(1250)
	return &domain.ExitRecord{
		ID:       uuid.New().String(),
		KernelID: kernelID,
		TaskID:   7,
		Name:     "writer",
		ExitCode: code,
		Snapshot: tcb.Snapshot(),
		ExitedAt: at,
	}
}

func TestPostgres_RecordExit_GetExit(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := makeExit("kernel-a", 4, time.Now().UTC().Truncate(time.Microsecond))
	inserted, err := repo.RecordExit(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := repo.GetExit(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.KernelID, got.KernelID)
	assert.Equal(t, 7, got.TaskID)
	assert.Equal(t, 4, got.ExitCode)
	assert.Equal(t, domain.StatusExited, got.Snapshot.Status())
	assert.Equal(t, uint64(250), got.Snapshot.ElapsedMillis())
	assert.Equal(t, uint32(1), got.Snapshot.SyscallCount(93))
	assert.True(t, rec.ExitedAt.Equal(got.ExitedAt))
}

func TestPostgres_RecordExit_Duplicate(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := makeExit("kernel-a", 0, time.Now().UTC())
	inserted, err := repo.RecordExit(ctx, rec)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = repo.RecordExit(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivered event must not insert a second row")
}

func TestPostgres_GetExit_NotFound(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetExit(context.Background(), uuid.New().String())
	require.Error(t, err)

	var notFound *postgres.ExitNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPostgres_ListExits_NewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		_, err := repo.RecordExit(ctx, makeExit("kernel-list", i, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	_, err := repo.RecordExit(ctx, makeExit("kernel-other", 9, base))
	require.NoError(t, err)

	exits, err := repo.ListExits(ctx, "kernel-list", 2)
	require.NoError(t, err)
	require.Len(t, exits, 2)
	assert.Equal(t, 2, exits[0].ExitCode)
	assert.Equal(t, 1, exits[1].ExitCode)
}
