// Package workload reads task programs from YAML manifests.
//
// A manifest looks like:
//
//	tasks:
//	  - name: greeter
//	    program:
//	      - syscall: write
//	        data: "hello\n"
//	        repeat: 3
//	      - syscall: yield
//	      - syscall: task_info
//	      - syscall: exit
//	        args: [-1]
//
// Args are signed in the manifest and passed to the syscall as their two's
// complement register value, so exit: [-1] exits with code -1.
package workload

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
	"github.com/ramiqadoumi/go-task-kernel/internal/syscalls"
)

// maxRepeat bounds the expansion of a single instruction.
const maxRepeat = 10000

// Instruction is one manifest line. Syscall is a name ("write") or a decimal id.
type Instruction struct {
	Syscall string  `json:"syscall"`
	Args    []int64 `json:"args,omitempty"`
	Data    string  `json:"data,omitempty"`
	Repeat  int     `json:"repeat,omitempty"`
}

// TaskSpec is a named program.
type TaskSpec struct {
	Name    string        `json:"name"`
	Program []Instruction `json:"program"`
}

// Manifest is the top-level document.
type Manifest struct {
	Tasks []TaskSpec `json:"tasks"`
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest content is empty")
	}
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Tasks) == 0 {
		return nil, errors.New("manifest declares no tasks")
	}
	for i := range m.Tasks {
		if _, err := m.Tasks[i].Compile(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Compile turns the spec into a kernel program, resolving syscall names and
// expanding repeats.
func (t TaskSpec) Compile() (kernel.Program, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, errors.New("task is missing a name")
	}
	var prog kernel.Program
	for i, ins := range t.Program {
		id, err := syscalls.Lookup(ins.Syscall)
		if err != nil {
			return nil, fmt.Errorf("task %q instruction %d: %w", t.Name, i, err)
		}
		n := ins.Repeat
		if n == 0 {
			n = 1
		}
		if n < 0 || n > maxRepeat {
			return nil, fmt.Errorf("task %q instruction %d: repeat %d outside [1, %d]", t.Name, i, n, maxRepeat)
		}
		for j := 0; j < n; j++ {
			prog = append(prog, kernel.Instruction{
				Syscall: id,
				Args:    registers(ins.Args),
				Data:    []byte(ins.Data),
			})
		}
	}
	return prog, nil
}

func registers(args []int64) []uint64 {
	if len(args) == 0 {
		return nil
	}
	out := make([]uint64, len(args))
	for i, a := range args {
		out[i] = uint64(a)
	}
	return out
}

// SpawnAll loads every task of m into table, returning the slot ids in
// manifest order.
func (m *Manifest) SpawnAll(table *kernel.Table) ([]int, error) {
	ids := make([]int, 0, len(m.Tasks))
	for _, spec := range m.Tasks {
		prog, err := spec.Compile()
		if err != nil {
			return ids, err
		}
		id, err := table.Spawn(spec.Name, prog)
		if err != nil {
			return ids, fmt.Errorf("spawn %q: %w", spec.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
