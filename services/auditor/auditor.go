package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/kafka"
	"github.com/ramiqadoumi/go-task-kernel/internal/postgres"
	"github.com/ramiqadoumi/go-task-kernel/pkg/retry"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// Auditor consumes lifecycle events and records one row per exited task.
type Auditor struct {
	events     *kafka.EventConsumer
	repo       postgres.ExitRepository
	auditorID  string
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// Option configures an Auditor.
type Option func(*Auditor)

func WithRetries(n int) Option {
	return func(a *Auditor) { a.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(a *Auditor) { a.baseDelay = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// NewAuditor constructs an Auditor reading from consumer.
func NewAuditor(auditorID string, consumer kafka.Consumer, repo postgres.ExitRepository, opts ...Option) *Auditor {
	a := &Auditor{
		events:     kafka.NewEventConsumer(consumer),
		repo:       repo,
		auditorID:  auditorID,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run consumes until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) error {
	return a.events.Run(ctx, a.handleEvent)
}

// handleEvent records Exited events and ignores every other status. An error
// leaves the offset uncommitted so the event is redelivered.
func (a *Auditor) handleEvent(ctx context.Context, ev domain.LifecycleEvent) error {
	if ev.Status != domain.StatusExited {
		return nil
	}

	ctx, span := otel.Tracer("auditor").Start(ctx, "auditor.record_exit",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.String("kernel.id", ev.KernelID),
			attribute.Int("task.id", ev.TaskID),
			attribute.Int("task.exit_code", ev.ExitCode),
		),
	)
	defer span.End()

	log := a.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("kernel_id", ev.KernelID),
		slog.Int("task_id", ev.TaskID),
	)

	rec := &domain.ExitRecord{
		ID:       ev.ID,
		KernelID: ev.KernelID,
		TaskID:   ev.TaskID,
		Name:     ev.Name,
		ExitCode: ev.ExitCode,
		Snapshot: ev.Snapshot,
		ExitedAt: ev.At,
	}

	var inserted bool
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: a.maxRetries + 1,
		BaseDelay:   a.baseDelay,
		OnRetry: func(attempt int, err error) {
			log.Warn("record exit failed, retrying", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		},
	}, func(ctx context.Context) error {
		var err error
		inserted, err = a.repo.RecordExit(ctx, rec)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record exit failed")
		telemetry.AuditExitsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("record exit %s: %w", ev.ID, err)
	}

	if !inserted {
		log.Info("exit already recorded, skipping")
		telemetry.AuditExitsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	log.Info("task exit recorded",
		slog.String("task", ev.Name),
		slog.Int("exit_code", ev.ExitCode),
		slog.Uint64("elapsed_ms", ev.Snapshot.ElapsedMillis()),
		slog.Uint64("syscalls", ev.Snapshot.TotalSyscalls()),
		slog.String("auditor_id", a.auditorID),
	)
	telemetry.AuditExitsTotal.WithLabelValues("recorded").Inc()
	return nil
}
