// Package kernel holds the task table that owns every control block and the
// cooperative scheduler that moves tasks between Ready, Running and Exited.
package kernel

import (
	"sync"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
)

// Instruction is one syscall a program makes.
type Instruction struct {
	Syscall int
	Args    []uint64
	Data    []byte
}

// Program is the straight-line sequence of syscalls a task executes.
type Program []Instruction

// SyscallResult is the answer a task got back from its most recent syscall.
type SyscallResult struct {
	Syscall string `json:"syscall"`
	Value   int64  `json:"value"`
	// Info is the snapshot returned by task_info.
	Info *domain.Snapshot `json:"info,omitempty"`
}

// TaskView is a task's slot as seen from outside the table.
type TaskView struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	ExitCode    int             `json:"exit_code"`
	Snapshot    domain.Snapshot `json:"snapshot"`
	LastSyscall *SyscallResult  `json:"last_syscall,omitempty"`
}

type slot struct {
	name     string
	tcb      *domain.ControlBlock
	program  Program
	pc       int
	exitCode int
	last     *SyscallResult
}

func (s *slot) view(id int) TaskView {
	v := TaskView{ID: id, Name: s.name, ExitCode: s.exitCode, Snapshot: s.tcb.Snapshot()}
	if s.last != nil {
		last := *s.last
		v.LastSyscall = &last
	}
	return v
}

// Table is a fixed-capacity set of task slots. It is the only long-lived
// owner of each ControlBlock, and its mutex is what serializes access to them.
type Table struct {
	mu    sync.Mutex
	slots []*slot
	clock clock.Clock
}

// NewTable creates a table with capacity slots whose blocks sample clk.
func NewTable(capacity int, clk clock.Clock) *Table {
	if capacity <= 0 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.NewBoot()
	}
	return &Table{slots: make([]*slot, capacity), clock: clk}
}

func (t *Table) Capacity() int { return len(t.slots) }

// Spawn loads prog into the lowest free slot and marks it Ready. It returns the
// slot id, or TaskTableFullError.
func (t *Table) Spawn(name string, prog Program) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.slots {
		if s != nil {
			continue
		}
		tcb := domain.NewControlBlock(t.clock)
		tcb.MarkReady()
		t.slots[id] = &slot{name: name, tcb: tcb, program: prog}
		telemetry.KernelTasksSpawned.Inc()
		return id, nil
	}
	return 0, &domain.TaskTableFullError{Capacity: len(t.slots)}
}

// Snapshot returns the current view of task id.
func (t *Table) Snapshot(id int) (TaskView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slotLocked(id)
	if err != nil {
		return TaskView{}, err
	}
	return s.view(id), nil
}

// List returns a view of every occupied slot in id order.
func (t *Table) List() []TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()
	views := make([]TaskView, 0, len(t.slots))
	for id, s := range t.slots {
		if s != nil {
			views = append(views, s.view(id))
		}
	}
	return views
}

// Reap frees the slot of an Exited task and returns its final view. Tasks in
// any other status yield TaskNotExitedError.
func (t *Table) Reap(id int) (TaskView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.slotLocked(id)
	if err != nil {
		return TaskView{}, err
	}
	if st := s.tcb.Status(); st != domain.StatusExited {
		return TaskView{}, &domain.TaskNotExitedError{TaskID: id, Status: st}
	}
	view := s.view(id)
	t.slots[id] = nil
	return view, nil
}

func (t *Table) slotLocked(id int) (*slot, error) {
	if id < 0 || id >= len(t.slots) || t.slots[id] == nil {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return t.slots[id], nil
}

// nextReadyLocked scans round robin from start for a Ready slot.
func (t *Table) nextReadyLocked(start int) (int, bool) {
	n := len(t.slots)
	for i := 0; i < n; i++ {
		id := (start + i) % n
		if s := t.slots[id]; s != nil && s.tcb.IsReady() {
			return id, true
		}
	}
	return 0, false
}
