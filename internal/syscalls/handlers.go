package syscalls

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
)

const stdout = 1

// WriteHandler serves write(fd, buf). Only stdout is supported; any other fd
// returns -1 to the task.
type WriteHandler struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriteHandler(out io.Writer) *WriteHandler { return &WriteHandler{out: out} }

func (h *WriteHandler) SyscallID() int { return SysWrite }

func (h *WriteHandler) Handle(_ context.Context, call *Call) (Result, error) {
	fd := stdout
	if len(call.Args) > 0 {
		fd = int(call.Args[0])
	}
	if fd != stdout {
		return Result{Value: -1}, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.out.Write(call.Data)
	if err != nil {
		return Result{Value: -1}, fmt.Errorf("write for task %d: %w", call.TaskID, err)
	}
	return Result{Value: int64(n)}, nil
}

// ExitHandler serves exit(code).
type ExitHandler struct{}

func (ExitHandler) SyscallID() int { return SysExit }

func (ExitHandler) Handle(_ context.Context, call *Call) (Result, error) {
	code := int(int32(call.Arg(0)))
	return Result{Outcome: OutcomeExit, ExitCode: code}, nil
}

// YieldHandler serves yield().
type YieldHandler struct{}

func (YieldHandler) SyscallID() int { return SysYield }

func (YieldHandler) Handle(context.Context, *Call) (Result, error) {
	return Result{Outcome: OutcomeYield}, nil
}

// GetTimeHandler serves get_time() in milliseconds.
type GetTimeHandler struct {
	clock clock.Clock
}

func NewGetTimeHandler(c clock.Clock) *GetTimeHandler { return &GetTimeHandler{clock: c} }

func (h *GetTimeHandler) SyscallID() int { return SysGetTime }

func (h *GetTimeHandler) Handle(context.Context, *Call) (Result, error) {
	return Result{Value: int64(h.clock.NowMillis())}, nil
}

// TaskInfoHandler serves task_info(): a snapshot of the calling task, which
// already includes this call.
type TaskInfoHandler struct{}

func (TaskInfoHandler) SyscallID() int { return SysTaskInfo }

func (TaskInfoHandler) Handle(_ context.Context, call *Call) (Result, error) {
	if call.Task == nil {
		return Result{Value: -1}, fmt.Errorf("task_info for task %d: no control block", call.TaskID)
	}
	snap := call.Task.Snapshot()
	return Result{Info: &snap}, nil
}

// NewDefaultRegistry returns a registry with every built-in syscall. write
// output goes to out, get_time reads clk.
func NewDefaultRegistry(out io.Writer, clk clock.Clock) *Registry {
	r := NewRegistry()
	for _, h := range []Handler{
		NewWriteHandler(out),
		ExitHandler{},
		YieldHandler{},
		NewGetTimeHandler(clk),
		TaskInfoHandler{},
	} {
		// Built-in ids are constants inside the valid range.
		_ = r.Register(h)
	}
	return r
}
