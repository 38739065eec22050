// Package syscalls is the system-call dispatch table of the kernel. It maps
// numeric syscall ids to handlers and charges each handled call to the calling
// task's control block.
package syscalls

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
)

// Syscall identifiers. All are below domain.MaxSyscalls.
const (
	SysWrite    = 64
	SysExit     = 93
	SysYield    = 124
	SysGetTime  = 169
	SysTaskInfo = 410
)

var names = map[int]string{
	SysWrite:    "write",
	SysExit:     "exit",
	SysYield:    "yield",
	SysGetTime:  "get_time",
	SysTaskInfo: "task_info",
}

// Name returns the symbolic name of id, or "sys_<id>" for ids without one.
func Name(id int) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("sys_%d", id)
}

// Lookup resolves a syscall by name ("write", "sys_64") or by decimal id ("64").
// It fails for ids outside [0, domain.MaxSyscalls).
func Lookup(name string) (int, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for id, n := range names {
		if n == name {
			return id, nil
		}
	}
	raw := strings.TrimPrefix(name, "sys_")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("unknown syscall %q", name)
	}
	if id < 0 || id >= domain.MaxSyscalls {
		return 0, &domain.SyscallOutOfRangeError{ID: id, Max: domain.MaxSyscalls}
	}
	return id, nil
}
