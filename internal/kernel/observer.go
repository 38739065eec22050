package kernel

import (
	"context"
	"log/slog"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// Observer receives lifecycle events after the scheduler has released the
// task table. Implementations must not block for long.
type Observer interface {
	Observe(ctx context.Context, ev domain.LifecycleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev domain.LifecycleEvent)

func (f ObserverFunc) Observe(ctx context.Context, ev domain.LifecycleEvent) { f(ctx, ev) }

// MetricsObserver records the runtime of every task that exits.
type MetricsObserver struct{}

func (MetricsObserver) Observe(_ context.Context, ev domain.LifecycleEvent) {
	if ev.Status != domain.StatusExited || !ev.Snapshot.Started() {
		return
	}
	telemetry.KernelTaskRuntimeSeconds.Observe(float64(ev.Snapshot.ElapsedMillis()) / 1000)
}

// LogObserver writes one structured line per lifecycle event.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) Observe(ctx context.Context, ev domain.LifecycleEvent) {
	attrs := []slog.Attr{
		slog.Int("task_id", ev.TaskID),
		slog.String("task", ev.Name),
		slog.String("status", ev.Status.String()),
		slog.Uint64("elapsed_ms", ev.Snapshot.ElapsedMillis()),
		slog.Uint64("syscalls", ev.Snapshot.TotalSyscalls()),
	}
	if ev.Status == domain.StatusExited {
		attrs = append(attrs, slog.Int("exit_code", ev.ExitCode))
	}
	o.Logger.LogAttrs(ctx, slog.LevelDebug, "task transition", attrs...)
}
