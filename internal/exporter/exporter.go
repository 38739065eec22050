// Package exporter periodically copies live task snapshots into the Redis
// cache so they stay inspectable between API calls and after a task is reaped.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
	"github.com/ramiqadoumi/go-task-kernel/pkg/retry"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// DefaultSchedule exports every five seconds.
const DefaultSchedule = "@every 5s"

// Source lists the tasks to export. *kernel.Table satisfies it.
type Source interface {
	List() []kernel.TaskView
}

// Store receives snapshots. redis.SnapshotStore satisfies it.
type Store interface {
	SetSnapshot(ctx context.Context, kernelID string, view kernel.TaskView) error
}

// Exporter pushes every live task view to a Store on a cron schedule.
type Exporter struct {
	source   Source
	store    Store
	kernelID string
	spec     string
	schedule cron.Schedule
	retry    retry.Config
	logger   *slog.Logger

	mu      sync.Mutex // serializes overlapping runs
	lastRun time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithSchedule sets a standard cron expression or descriptor ("@every 10s").
func WithSchedule(spec string) Option {
	return func(e *Exporter) { e.spec = spec }
}

func WithRetry(cfg retry.Config) Option {
	return func(e *Exporter) { e.retry = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// New validates the schedule and returns an Exporter.
func New(source Source, store Store, kernelID string, opts ...Option) (*Exporter, error) {
	e := &Exporter{
		source:   source,
		store:    store,
		kernelID: kernelID,
		spec:     DefaultSchedule,
		retry:    retry.Config{MaxAttempts: 2, BaseDelay: 50 * time.Millisecond},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	schedule, err := cron.ParseStandard(e.spec)
	if err != nil {
		return nil, fmt.Errorf("parse export schedule %q: %w", e.spec, err)
	}
	e.schedule = schedule
	return e, nil
}

// Run exports on schedule until ctx is cancelled, then waits for an in-flight
// export to finish.
func (e *Exporter) Run(ctx context.Context) {
	c := cron.New()
	c.Schedule(e.schedule, cron.FuncJob(func() {
		if err := e.ExportOnce(ctx); err != nil {
			e.logger.Warn("snapshot export incomplete", slog.String("error", err.Error()))
		}
	}))
	c.Start()
	e.logger.Info("snapshot exporter started", slog.String("schedule", e.spec))

	<-ctx.Done()
	<-c.Stop().Done()
}

// ExportOnce pushes the current view of every task and refreshes the
// per-status gauges. Failures for individual tasks are joined into the result.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := e.source.List()
	recordStatusGauges(views)

	var errs []error
	for _, v := range views {
		if err := e.push(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	e.lastRun = time.Now()
	e.logger.Debug("snapshots exported", slog.Int("tasks", len(views)), slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// ExportFinal pushes the last view of a task that is about to leave the
// table. It waits for any running ExportOnce, so an older view read by that
// export cannot land after the final one.
func (e *Exporter) ExportFinal(ctx context.Context, v kernel.TaskView) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.push(ctx, v)
}

func (e *Exporter) push(ctx context.Context, v kernel.TaskView) error {
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.store.SetSnapshot(ctx, e.kernelID, v)
	})
	if err != nil {
		telemetry.ExporterSnapshotsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("task %d: %w", v.ID, err)
	}
	telemetry.ExporterSnapshotsTotal.WithLabelValues("ok").Inc()
	return nil
}

// LastRun is when ExportOnce last completed; zero before the first run.
func (e *Exporter) LastRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

func recordStatusGauges(views []kernel.TaskView) {
	counts := map[domain.Status]int{
		domain.StatusUninitialized: 0,
		domain.StatusReady:         0,
		domain.StatusRunning:       0,
		domain.StatusExited:        0,
	}
	for _, v := range views {
		counts[v.Snapshot.Status()]++
	}
	for st, n := range counts {
		telemetry.KernelTasksByStatus.WithLabelValues(st.String()).Set(float64(n))
	}
}
