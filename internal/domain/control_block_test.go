package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
)

func TestNewControlBlock_Defaults(t *testing.T) {
	b := domain.NewControlBlock(clock.NewManual(0))

	assert.Equal(t, domain.StatusUninitialized, b.Status())
	assert.False(t, b.IsReady())
	_, ok := b.FirstScheduledAt()
	assert.False(t, ok)
	assert.Equal(t, domain.ExecutionContext{}, *b.Context())

	snap := b.Snapshot()
	assert.Equal(t, [domain.MaxSyscalls]uint32{}, snap.SyscallCounts())
}

func TestNewControlBlock_NilClock(t *testing.T) {
	b := domain.NewControlBlock(nil)
	b.MarkRunning()
	_, ok := b.FirstScheduledAt()
	assert.True(t, ok)
}

func TestIsReady_FollowsLastMark(t *testing.T) {
	b := domain.NewControlBlock(clock.NewManual(0))

	b.MarkReady()
	assert.True(t, b.IsReady())

	b.MarkRunning()
	assert.False(t, b.IsReady())

	b.MarkReady()
	assert.True(t, b.IsReady())

	b.MarkExited()
	assert.False(t, b.IsReady())
}

func TestMarkRunning_SetsTimestampOnce(t *testing.T) {
	clk := clock.NewManual(100)
	b := domain.NewControlBlock(clk)

	b.MarkReady()
	b.MarkRunning()
	first, ok := b.FirstScheduledAt()
	require.True(t, ok)
	assert.Equal(t, uint64(100), first)

	// Interleave more scheduling events at later times; the timestamp must not move.
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Millisecond)
		b.MarkReady()
		clk.Advance(10 * time.Millisecond)
		b.MarkRunning()
		b.MarkRunning()
		got, _ := b.FirstScheduledAt()
		assert.Equal(t, uint64(100), got, "iteration %d", i)
	}
}

func TestMarkExited_KeepsAccounting(t *testing.T) {
	clk := clock.NewManual(10)
	b := domain.NewControlBlock(clk)
	b.MarkRunning()
	b.RecordSyscall(64)
	b.MarkExited()

	clk.Set(30)
	snap := b.Snapshot()
	assert.Equal(t, domain.StatusExited, snap.Status())
	assert.Equal(t, uint32(1), snap.SyscallCount(64))
	assert.Equal(t, uint64(20), snap.ElapsedMillis())
}

func TestMarkReady_PermissiveFromAnyState(t *testing.T) {
	b := domain.NewControlBlock(clock.NewManual(0))
	b.MarkExited()
	b.MarkReady()
	assert.Equal(t, domain.StatusReady, b.Status())
}

func TestRecordSyscall_CountsOnlyItsIndex(t *testing.T) {
	for _, id := range []int{0, 3, 64, domain.MaxSyscalls - 1} {
		b := domain.NewControlBlock(clock.NewManual(0))
		const n = 7
		for i := 0; i < n; i++ {
			b.RecordSyscall(id)
		}

		counts := b.Snapshot().SyscallCounts()
		for i, c := range counts {
			if i == id {
				assert.Equal(t, uint32(n), c, "id %d", id)
			} else if c != 0 {
				t.Fatalf("counter %d = %d after recording only id %d", i, c, id)
			}
		}
	}
}

func TestRecordSyscall_OutOfRangeIsFatal(t *testing.T) {
	for _, id := range []int{domain.MaxSyscalls, domain.MaxSyscalls + 1, -1} {
		b := domain.NewControlBlock(clock.NewManual(0))

		var recovered any
		func() {
			defer func() { recovered = recover() }()
			b.RecordSyscall(id)
		}()

		require.NotNil(t, recovered, "id %d must panic", id)
		err, ok := recovered.(error)
		require.True(t, ok)
		var oor *domain.SyscallOutOfRangeError
		require.True(t, errors.As(err, &oor))
		assert.Equal(t, id, oor.ID)
		assert.Equal(t, domain.MaxSyscalls, oor.Max)

		assert.Zero(t, b.Snapshot().TotalSyscalls(), "no counter may change on a rejected id")
	}
}

func TestRecordSyscall_Saturates(t *testing.T) {
	b := domain.NewControlBlock(clock.NewManual(0))
	domain.SetSyscallCountForTest(b, 5, math.MaxUint32-1)

	b.RecordSyscall(5)
	b.RecordSyscall(5)
	assert.Equal(t, uint32(math.MaxUint32), b.Snapshot().SyscallCount(5))
}

func TestTransition_StrictLifecycle(t *testing.T) {
	clk := clock.NewManual(5)
	b := domain.NewControlBlock(clk)

	require.NoError(t, b.Transition(domain.StatusReady))
	require.NoError(t, b.Transition(domain.StatusRunning))
	require.NoError(t, b.Transition(domain.StatusRunning))
	require.NoError(t, b.Transition(domain.StatusReady))
	require.NoError(t, b.Transition(domain.StatusRunning))
	require.NoError(t, b.Transition(domain.StatusExited))

	first, ok := b.FirstScheduledAt()
	require.True(t, ok)
	assert.Equal(t, uint64(5), first)
}

func TestTransition_RejectsIllegalMove(t *testing.T) {
	b := domain.NewControlBlock(clock.NewManual(0))

	err := b.Transition(domain.StatusRunning)
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.StatusUninitialized, invalid.From)
	assert.Equal(t, domain.StatusRunning, invalid.To)
	assert.Equal(t, domain.StatusUninitialized, b.Status(), "rejected transition must not mutate")
	_, ok := b.FirstScheduledAt()
	assert.False(t, ok)

	b.MarkExited()
	require.Error(t, b.Transition(domain.StatusReady))
	assert.Equal(t, domain.StatusExited, b.Status())
}

func TestContext_IsStablePerBlock(t *testing.T) {
	b := domain.NewControlBlock(clock.NewManual(0))
	ctx := b.Context()
	ctx[0] = 0xdead
	ctx[1] = 0xbeef

	b.MarkReady()
	b.MarkRunning()
	assert.Same(t, ctx, b.Context())
	assert.Equal(t, uint64(0xdead), b.Context()[0])
}

// Scenario: ready at start, running at 100ms, two calls of syscall 3, exit,
// snapshot at 150ms.
func TestScenario_LifecycleAccounting(t *testing.T) {
	clk := clock.NewManual(0)
	b := domain.NewControlBlock(clk)
	assert.Equal(t, domain.StatusUninitialized, b.Status())

	b.MarkReady()
	assert.True(t, b.IsReady())

	clk.Set(100)
	b.MarkRunning()
	b.RecordSyscall(3)
	b.RecordSyscall(3)
	b.MarkExited()

	clk.Set(150)
	snap := b.Snapshot()
	assert.Equal(t, domain.StatusExited, snap.Status())
	assert.Equal(t, uint32(2), snap.SyscallCount(3))
	assert.Equal(t, uint64(50), snap.ElapsedMillis())
	assert.True(t, snap.Started())
}

// A block that never ran reports the raw clock reading as elapsed time.
func TestScenario_SnapshotBeforeFirstRun(t *testing.T) {
	clk := clock.NewManual(4242)
	b := domain.NewControlBlock(clk)

	snap := b.Snapshot()
	assert.Equal(t, uint64(4242), snap.ElapsedMillis())
	assert.False(t, snap.Started())
	assert.Equal(t, domain.StatusUninitialized, snap.Status())
}
