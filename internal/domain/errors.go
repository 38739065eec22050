package domain

import "fmt"

// TaskNotFoundError is returned when a task slot is empty or out of range.
type TaskNotFoundError struct {
	TaskID int
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %d", e.TaskID)
}

// SyscallOutOfRangeError describes a syscall id outside [0, Max). When raised by
// ControlBlock.RecordSyscall it is the value of a panic, not a returned error.
type SyscallOutOfRangeError struct {
	ID  int
	Max int
}

func (e *SyscallOutOfRangeError) Error() string {
	return fmt.Sprintf("syscall id %d out of range [0, %d)", e.ID, e.Max)
}

// UnknownSyscallError is returned when the dispatch table has no handler for an id.
type UnknownSyscallError struct {
	ID int
}

func (e *UnknownSyscallError) Error() string {
	return fmt.Sprintf("no handler registered for syscall %d", e.ID)
}

// InvalidTransitionError is returned by ControlBlock.Transition for a move the
// lifecycle does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task transition %s -> %s", e.From, e.To)
}

// TaskTableFullError is returned when every slot of the task table is in use.
type TaskTableFullError struct {
	Capacity int
}

func (e *TaskTableFullError) Error() string {
	return fmt.Sprintf("task table full: capacity is %d", e.Capacity)
}

// TaskNotExitedError is returned when reaping a task that has not exited yet.
type TaskNotExitedError struct {
	TaskID int
	Status Status
}

func (e *TaskNotExitedError) Error() string {
	return fmt.Sprintf("task %d cannot be reaped in status %s", e.TaskID, e.Status)
}
