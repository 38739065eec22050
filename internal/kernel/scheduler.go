package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/syscalls"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// exitCodeFault is the exit code of a task killed because a syscall failed.
const exitCodeFault = -1

// Dispatcher executes one syscall on behalf of a task.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *syscalls.Call) (syscalls.Result, error)
}

// Scheduler runs Ready tasks round robin. A task keeps the processor until it
// yields, exits, or its program ends. There is no preemption.
type Scheduler struct {
	table      *Table
	dispatcher Dispatcher
	observers  []Observer
	kernelID   string
	strict     bool
	autoReap   bool
	onReap     []ReapFunc
	idle       time.Duration
	logger     *slog.Logger

	cursor int
}

// ReapFunc receives the final view of a task that auto reap is about to free.
type ReapFunc func(ctx context.Context, view TaskView)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver registers o for every lifecycle event.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

func WithKernelID(id string) Option {
	return func(s *Scheduler) { s.kernelID = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithIdleInterval sets how often Run polls an idle table.
func WithIdleInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.idle = d }
}

// WithAutoReap frees a task's slot as soon as it exits.
func WithAutoReap(on bool) Option {
	return func(s *Scheduler) { s.autoReap = on }
}

// WithOnReap registers f to run before auto reap frees a slot, while the
// task can still be read from the table.
func WithOnReap(f ReapFunc) Option {
	return func(s *Scheduler) { s.onReap = append(s.onReap, f) }
}

// WithStrictTransitions drives control blocks through ControlBlock.Transition
// instead of the unconditional Mark methods.
func WithStrictTransitions(on bool) Option {
	return func(s *Scheduler) { s.strict = on }
}

// NewScheduler constructs a Scheduler over table.
func NewScheduler(table *Table, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		table:      table,
		dispatcher: dispatcher,
		kernelID:   "kernel-" + uuid.New().String()[:8],
		idle:       50 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) KernelID() string { return s.kernelID }

// Run schedules tasks until ctx is cancelled, polling every idle interval when
// nothing is Ready.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.idle)
	defer ticker.Stop()

	for {
		ran, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if ran {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunUntilIdle schedules tasks until none is Ready.
func (s *Scheduler) RunUntilIdle(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

// Step gives one time slice to the next Ready task. It reports false when no
// task is Ready.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	s.table.mu.Lock()
	id, ok := s.table.nextReadyLocked(s.cursor)
	if !ok {
		s.table.mu.Unlock()
		return false, nil
	}
	s.cursor = id + 1
	sl := s.table.slots[id]

	var events []domain.LifecycleEvent
	if err := s.transition(sl, domain.StatusRunning); err != nil {
		s.table.mu.Unlock()
		return false, fmt.Errorf("schedule task %d: %w", id, err)
	}
	events = append(events, s.event(id, sl))

	err := s.runSlice(ctx, id, sl)
	events = append(events, s.event(id, sl))
	reap := s.autoReap && sl.tcb.Status() == domain.StatusExited
	var final TaskView
	if reap {
		final = sl.view(id)
	}
	s.table.mu.Unlock()

	s.notify(ctx, events)

	if reap {
		for _, f := range s.onReap {
			f(ctx, final)
		}
		if _, rerr := s.table.Reap(id); rerr != nil {
			s.logger.Error("auto reap failed", slog.Int("task_id", id), slog.String("error", rerr.Error()))
		}
	}
	return true, err
}

// runSlice executes instructions of a Running task until it leaves Running.
// Called with the table lock held.
func (s *Scheduler) runSlice(ctx context.Context, id int, sl *slot) error {
	log := s.logger.With(slog.Int("task_id", id), slog.String("task", sl.name))

	for sl.pc < len(sl.program) {
		if ctx.Err() != nil {
			return s.transition(sl, domain.StatusReady)
		}
		ins := sl.program[sl.pc]
		sl.pc++

		res, err := s.dispatcher.Dispatch(ctx, &syscalls.Call{
			TaskID: id,
			Task:   sl.tcb,
			ID:     ins.Syscall,
			Args:   ins.Args,
			Data:   ins.Data,
		})
		sl.last = &SyscallResult{Syscall: syscalls.Name(ins.Syscall), Value: res.Value, Info: res.Info}
		if err != nil {
			log.Error("syscall failed, killing task",
				slog.Int("syscall_id", ins.Syscall),
				slog.String("error", err.Error()),
			)
			return s.exit(sl, exitCodeFault)
		}
		log.Debug("syscall returned",
			slog.String("syscall", sl.last.Syscall),
			slog.Int64("value", res.Value),
		)

		switch res.Outcome {
		case syscalls.OutcomeYield:
			return s.transition(sl, domain.StatusReady)
		case syscalls.OutcomeExit:
			log.Debug("task exited", slog.Int("exit_code", res.ExitCode))
			return s.exit(sl, res.ExitCode)
		}
	}

	// Falling off the end of a program is an implicit exit(0).
	return s.exit(sl, 0)
}

func (s *Scheduler) exit(sl *slot, code int) error {
	sl.exitCode = code
	return s.transition(sl, domain.StatusExited)
}

func (s *Scheduler) transition(sl *slot, to domain.Status) error {
	if s.strict {
		if err := sl.tcb.Transition(to); err != nil {
			telemetry.KernelInvalidTransitionsTotal.Inc()
			return err
		}
	} else {
		switch to {
		case domain.StatusReady:
			sl.tcb.MarkReady()
		case domain.StatusRunning:
			sl.tcb.MarkRunning()
		case domain.StatusExited:
			sl.tcb.MarkExited()
		}
	}
	telemetry.KernelTransitionsTotal.WithLabelValues(to.String()).Inc()
	return nil
}

func (s *Scheduler) event(id int, sl *slot) domain.LifecycleEvent {
	snap := sl.tcb.Snapshot()
	ev := domain.LifecycleEvent{
		ID:       uuid.New().String(),
		KernelID: s.kernelID,
		TaskID:   id,
		Name:     sl.name,
		Status:   snap.Status(),
		Snapshot: snap,
		At:       time.Now().UTC(),
	}
	if ev.Status == domain.StatusExited {
		ev.ExitCode = sl.exitCode
	}
	return ev
}

func (s *Scheduler) notify(ctx context.Context, events []domain.LifecycleEvent) {
	for _, ev := range events {
		for _, o := range s.observers {
			o.Observe(ctx, ev)
		}
	}
}
