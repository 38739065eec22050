package syscalls

import (
	"context"
	"sort"
	"sync"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
)

// Outcome tells the scheduler what to do with the calling task after a syscall.
type Outcome int

const (
	// OutcomeContinue keeps the task running.
	OutcomeContinue Outcome = iota
	// OutcomeYield gives up the processor; the task goes back to Ready.
	OutcomeYield
	// OutcomeExit ends the task.
	OutcomeExit
)

// Call is one system call made by a task.
type Call struct {
	TaskID int
	Task   *domain.ControlBlock
	ID     int
	Args   []uint64
	Data   []byte
}

// Arg returns argument i, or 0 when the call carries fewer arguments.
func (c *Call) Arg(i int) uint64 {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return 0
}

// Result is what a handler hands back to the calling task.
type Result struct {
	Value    int64
	Outcome  Outcome
	ExitCode int
	// Info is set by task_info.
	Info *domain.Snapshot
}

// Handler serves one syscall id.
type Handler interface {
	Handle(ctx context.Context, call *Call) (Result, error)
	SyscallID() int
}

// Registry maps syscall ids to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[int]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[int]Handler)}
}

// Register adds a handler, replacing any previous one for the same id. Ids
// outside [0, domain.MaxSyscalls) are refused so the dispatcher can never
// charge an out-of-range counter. Safe to call concurrently.
func (r *Registry) Register(h Handler) error {
	id := h.SyscallID()
	if id < 0 || id >= domain.MaxSyscalls {
		return &domain.SyscallOutOfRangeError{ID: id, Max: domain.MaxSyscalls}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
	return nil
}

// Get returns the handler for id.
// Returns UnknownSyscallError if not registered.
func (r *Registry) Get(id int) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	if !ok {
		return nil, &domain.UnknownSyscallError{ID: id}
	}
	return h, nil
}

// IDs lists the registered syscall ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
