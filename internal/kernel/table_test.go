package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
)

func TestTable_SpawnMarksReady(t *testing.T) {
	tbl := NewTable(2, clock.NewManual(0))

	id, err := tbl.Spawn("init", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	view, err := tbl.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "init", view.Name)
	assert.Equal(t, domain.StatusReady, view.Snapshot.Status())
	assert.False(t, view.Snapshot.Started())
}

func TestTable_Full(t *testing.T) {
	tbl := NewTable(1, clock.NewManual(0))
	_, err := tbl.Spawn("a", nil)
	require.NoError(t, err)

	_, err = tbl.Spawn("b", nil)
	var full *domain.TaskTableFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, 1, full.Capacity)
}

func TestTable_SnapshotUnknownSlot(t *testing.T) {
	tbl := NewTable(2, clock.NewManual(0))
	for _, id := range []int{-1, 0, 2} {
		_, err := tbl.Snapshot(id)
		var notFound *domain.TaskNotFoundError
		require.ErrorAs(t, err, &notFound, "id %d", id)
	}
}

func TestTable_ListInIDOrder(t *testing.T) {
	tbl := NewTable(4, clock.NewManual(0))
	for _, name := range []string{"a", "b", "c"} {
		_, err := tbl.Spawn(name, nil)
		require.NoError(t, err)
	}
	tbl.slots[1].tcb.MarkExited()
	_, err := tbl.Reap(1)
	require.NoError(t, err)

	views := tbl.List()
	require.Len(t, views, 2)
	assert.Equal(t, 0, views[0].ID)
	assert.Equal(t, 2, views[1].ID)

	// The freed slot is reused first.
	id, err := tbl.Spawn("d", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestTable_ReapOnlyExited(t *testing.T) {
	tbl := NewTable(1, clock.NewManual(0))
	id, err := tbl.Spawn("a", nil)
	require.NoError(t, err)

	_, err = tbl.Reap(id)
	var notExited *domain.TaskNotExitedError
	require.ErrorAs(t, err, &notExited)
	assert.Equal(t, domain.StatusReady, notExited.Status)

	tbl.slots[id].tcb.MarkExited()
	tbl.slots[id].exitCode = 4
	view, err := tbl.Reap(id)
	require.NoError(t, err)
	assert.Equal(t, 4, view.ExitCode)
	assert.Equal(t, domain.StatusExited, view.Snapshot.Status())

	_, err = tbl.Reap(id)
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestTable_NextReadyRoundRobin(t *testing.T) {
	tbl := NewTable(3, clock.NewManual(0))
	for i := 0; i < 3; i++ {
		_, err := tbl.Spawn("t", nil)
		require.NoError(t, err)
	}
	tbl.slots[1].tcb.MarkRunning()

	id, ok := tbl.nextReadyLocked(1)
	require.True(t, ok)
	assert.Equal(t, 2, id)

	id, ok = tbl.nextReadyLocked(3)
	require.True(t, ok)
	assert.Equal(t, 0, id)

	for _, s := range tbl.slots {
		s.tcb.MarkExited()
	}
	_, ok = tbl.nextReadyLocked(0)
	assert.False(t, ok)
}

func TestNewTable_Defaults(t *testing.T) {
	tbl := NewTable(0, nil)
	assert.Equal(t, 1, tbl.Capacity())
}
