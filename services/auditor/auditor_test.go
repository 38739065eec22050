package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/kafka"
	"github.com/ramiqadoumi/go-task-kernel/internal/postgres"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeRepo struct {
	rows     map[string]*domain.ExitRecord
	failures int
	calls    int
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rows: map[string]*domain.ExitRecord{}} }

func (r *fakeRepo) RecordExit(_ context.Context, rec *domain.ExitRecord) (bool, error) {
	r.calls++
	if r.calls <= r.failures {
		return false, errors.New("connection reset by peer")
	}
	if _, ok := r.rows[rec.ID]; ok {
		return false, nil
	}
	r.rows[rec.ID] = rec
	return true, nil
}

func (r *fakeRepo) GetExit(_ context.Context, id string) (*domain.ExitRecord, error) {
	rec, ok := r.rows[id]
	if !ok {
		return nil, &postgres.ExitNotFoundError{ID: id}
	}
	return rec, nil
}

func (r *fakeRepo) ListExits(context.Context, string, int) ([]*domain.ExitRecord, error) {
	return nil, nil
}

var _ postgres.ExitRepository = (*fakeRepo)(nil)

type fakeConsumer struct {
	msgs    []kafka.Message
	results []error
}

func (c *fakeConsumer) Subscribe(ctx context.Context, h kafka.HandlerFunc) error {
	for _, m := range c.msgs {
		c.results = append(c.results, h(ctx, m))
	}
	return nil
}

func (c *fakeConsumer) Close() error { return nil }

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestAuditor(consumer kafka.Consumer, repo *fakeRepo) *Auditor {
	return NewAuditor("test-auditor", consumer, repo,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetries(2),
		WithBaseDelay(time.Millisecond),
	)
}

func lifecycleEvent(id string, status domain.Status, code int) domain.LifecycleEvent {
	clk := clock.NewManual(100)
	tcb := domain.NewControlBlock(clk)
	tcb.MarkReady()
	tcb.MarkRunning()
	tcb.RecordSyscall(64)
	tcb.RecordSyscall(93)
	if status == domain.StatusExited {
		tcb.MarkExited()
	}
	clk.Set(140)
	return domain.LifecycleEvent{
		ID:       id,
		KernelID: "kernel-a",
		TaskID:   1,
		Name:     "greeter",
		Status:   status,
		ExitCode: code,
		Snapshot: tcb.Snapshot(),
		At:       time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func eventMsg(t *testing.T, ev domain.LifecycleEvent) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestAuditor_RecordsExitedEvents(t *testing.T) {
	repo := newFakeRepo()
	a := newTestAuditor(nil, repo)

	before := testutil.ToFloat64(telemetry.AuditExitsTotal.WithLabelValues("recorded"))
	require.NoError(t, a.handleEvent(context.Background(), lifecycleEvent("ev-1", domain.StatusExited, 3)))

	rec, err := repo.GetExit(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ExitCode)
	assert.Equal(t, "kernel-a", rec.KernelID)
	assert.Equal(t, uint64(40), rec.Snapshot.ElapsedMillis())
	assert.Equal(t, uint64(2), rec.Snapshot.TotalSyscalls())
	assert.Equal(t, time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC), rec.ExitedAt)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.AuditExitsTotal.WithLabelValues("recorded")))
}

func TestAuditor_IgnoresNonExitEvents(t *testing.T) {
	repo := newFakeRepo()
	a := newTestAuditor(nil, repo)

	for _, st := range []domain.Status{domain.StatusReady, domain.StatusRunning} {
		require.NoError(t, a.handleEvent(context.Background(), lifecycleEvent("ev-"+st.String(), st, 0)))
	}
	assert.Zero(t, repo.calls)
}

func TestAuditor_DuplicateIsHarmless(t *testing.T) {
	repo := newFakeRepo()
	a := newTestAuditor(nil, repo)
	ev := lifecycleEvent("ev-dup", domain.StatusExited, 0)

	before := testutil.ToFloat64(telemetry.AuditExitsTotal.WithLabelValues("duplicate"))
	require.NoError(t, a.handleEvent(context.Background(), ev))
	require.NoError(t, a.handleEvent(context.Background(), ev))

	assert.Len(t, repo.rows, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.AuditExitsTotal.WithLabelValues("duplicate")))
}

func TestAuditor_RetriesThenSucceeds(t *testing.T) {
	repo := newFakeRepo()
	repo.failures = 2
	a := newTestAuditor(nil, repo)

	require.NoError(t, a.handleEvent(context.Background(), lifecycleEvent("ev-retry", domain.StatusExited, 0)))
	assert.Equal(t, 3, repo.calls)
	assert.Len(t, repo.rows, 1)
}

func TestAuditor_ExhaustedRetriesLeaveOffsetUncommitted(t *testing.T) {
	repo := newFakeRepo()
	repo.failures = 100
	a := newTestAuditor(nil, repo)

	before := testutil.ToFloat64(telemetry.AuditExitsTotal.WithLabelValues("error"))
	err := a.handleEvent(context.Background(), lifecycleEvent("ev-fail", domain.StatusExited, 0))
	require.Error(t, err)
	assert.Equal(t, 3, repo.calls, "first attempt plus two retries")
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.AuditExitsTotal.WithLabelValues("error")))
}

func TestAuditor_RunDropsMalformedMessages(t *testing.T) {
	repo := newFakeRepo()
	cons := &fakeConsumer{msgs: []kafka.Message{
		{Value: []byte("garbage")},
		eventMsg(t, lifecycleEvent("ev-run", domain.StatusExited, 1)),
	}}
	a := newTestAuditor(cons, repo)

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, cons.results, 2)
	assert.ErrorIs(t, cons.results[0], kafka.ErrDrop)
	assert.NoError(t, cons.results[1])
	assert.Contains(t, repo.rows, "ev-run")
}
