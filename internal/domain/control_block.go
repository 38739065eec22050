package domain

import (
	"math"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
)

// MaxSyscalls bounds the syscall identifier space: valid ids are [0, MaxSyscalls).
const MaxSyscalls = 500

// ContextWords is the size of a saved execution context in machine words
// (return address, stack pointer and twelve callee-saved registers).
const ContextWords = 14

// ExecutionContext is the saved register set of a task. It is owned by its
// ControlBlock but only the context-switch routine reads or writes it.
type ExecutionContext [ContextWords]uint64

// ControlBlock is the per-task record of lifecycle state, first-scheduled time
// and syscall accounting.
//
// A ControlBlock has no internal locking. The task table that owns it must
// serialize every call for a given block.
type ControlBlock struct {
	status           Status
	firstScheduledAt uint64
	scheduled        bool
	syscalls         [MaxSyscalls]uint32
	context          ExecutionContext
	clock            clock.Clock
}

// NewControlBlock returns an Uninitialized block with zeroed counters that
// samples c for its timing. A nil c falls back to a clock started now.
func NewControlBlock(c clock.Clock) *ControlBlock {
	if c == nil {
		c = clock.NewBoot()
	}
	return &ControlBlock{clock: c}
}

// MarkReady sets the status to Ready regardless of the current status.
func (b *ControlBlock) MarkReady() { b.status = StatusReady }

// MarkRunning sets the status to Running and, on the first call only, records
// the current time as the first-scheduled timestamp.
func (b *ControlBlock) MarkRunning() {
	b.status = StatusRunning
	if !b.scheduled {
		b.firstScheduledAt = b.clock.NowMillis()
		b.scheduled = true
	}
}

// MarkExited sets the status to Exited. Counters and the timestamp are kept.
func (b *ControlBlock) MarkExited() { b.status = StatusExited }

// IsReady reports whether the task can be picked by the scheduler.
func (b *ControlBlock) IsReady() bool { return b.status == StatusReady }

// Status returns the current lifecycle status.
func (b *ControlBlock) Status() Status { return b.status }

// FirstScheduledAt returns the first-scheduled timestamp and whether it is set.
func (b *ControlBlock) FirstScheduledAt() (uint64, bool) {
	return b.firstScheduledAt, b.scheduled
}

// Transition is the checked counterpart of the Mark methods. It applies to only
// if CanTransition(current, to) holds and otherwise returns an
// *InvalidTransitionError without touching the block.
func (b *ControlBlock) Transition(to Status) error {
	if !CanTransition(b.status, to) {
		return &InvalidTransitionError{From: b.status, To: to}
	}
	switch to {
	case StatusReady:
		b.MarkReady()
	case StatusRunning:
		b.MarkRunning()
	case StatusExited:
		b.MarkExited()
	}
	return nil
}

// RecordSyscall counts one invocation of syscall id. Counters saturate at
// math.MaxUint32.
//
// An id outside [0, MaxSyscalls) is a bug in the dispatcher and is fatal:
// RecordSyscall panics with a *SyscallOutOfRangeError.
func (b *ControlBlock) RecordSyscall(id int) {
	if id < 0 || id >= MaxSyscalls {
		panic(&SyscallOutOfRangeError{ID: id, Max: MaxSyscalls})
	}
	if b.syscalls[id] < math.MaxUint32 {
		b.syscalls[id]++
	}
}

// Context returns the saved execution context for the context-switch routine.
func (b *ControlBlock) Context() *ExecutionContext { return &b.context }

// Snapshot returns a point-in-time copy of the block. Elapsed time is
// now - firstScheduledAt, or now - 0 for a task that has never run; see Snapshot.Started.
func (b *ControlBlock) Snapshot() Snapshot {
	now := b.clock.NowMillis()
	var base uint64
	if b.scheduled {
		base = b.firstScheduledAt
	}
	var elapsed uint64
	if now > base {
		elapsed = now - base
	}
	return Snapshot{
		status:   b.status,
		syscalls: b.syscalls,
		elapsed:  elapsed,
		started:  b.scheduled,
	}
}
