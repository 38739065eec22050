package syscalls

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// Dispatcher routes syscalls to handlers and keeps per-task accounting.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch charges call.ID to the caller exactly once and runs its handler.
// Calls without a handler are not charged and return UnknownSyscallError.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call) (Result, error) {
	ctx, span := otel.Tracer("syscalls").Start(ctx, "syscalls.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("task.id", call.TaskID),
		attribute.Int("syscall.id", call.ID),
	)

	h, err := d.registry.Get(call.ID)
	if err != nil {
		d.logger.Warn("unsupported syscall",
			slog.Int("task_id", call.TaskID),
			slog.Int("syscall_id", call.ID),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown syscall")
		telemetry.SyscallsUnknownTotal.Inc()
		return Result{Value: -1}, err
	}
	if call.Task == nil {
		return Result{Value: -1}, fmt.Errorf("syscall %d from task %d: %w",
			call.ID, call.TaskID, &domain.TaskNotFoundError{TaskID: call.TaskID})
	}

	call.Task.RecordSyscall(call.ID)
	name := Name(call.ID)
	telemetry.SyscallsTotal.WithLabelValues(name).Inc()
	span.SetAttributes(attribute.String("syscall.name", name))

	res, err := h.Handle(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return res, fmt.Errorf("syscall %s: %w", name, err)
	}
	return res, nil
}
