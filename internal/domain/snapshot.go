package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Snapshot is an immutable view of a ControlBlock taken by ControlBlock.Snapshot.
// It shares nothing with the live block.
//
// For a task that never ran, ElapsedMillis is the current clock reading (the
// baseline is zero) and Started is false. Callers that care should check Started
// rather than trusting the number.
type Snapshot struct {
	status   Status
	syscalls [MaxSyscalls]uint32
	elapsed  uint64
	started  bool
}

// Status is the task status at the time of the snapshot.
func (s Snapshot) Status() Status { return s.status }

// SyscallCount returns the invocation count for id, or 0 for an id out of range.
func (s Snapshot) SyscallCount(id int) uint32 {
	if id < 0 || id >= MaxSyscalls {
		return 0
	}
	return s.syscalls[id]
}

// SyscallCounts returns a copy of every counter.
func (s Snapshot) SyscallCounts() [MaxSyscalls]uint32 { return s.syscalls }

// NonZeroSyscalls returns the counters that are above zero, keyed by id.
func (s Snapshot) NonZeroSyscalls() map[int]uint32 {
	out := make(map[int]uint32)
	for id, n := range s.syscalls {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}

// TotalSyscalls sums every counter.
func (s Snapshot) TotalSyscalls() uint64 {
	var total uint64
	for _, n := range s.syscalls {
		total += uint64(n)
	}
	return total
}

// ElapsedMillis is the time since the task was first scheduled. For a task that
// never ran it is the raw clock reading.
func (s Snapshot) ElapsedMillis() uint64 { return s.elapsed }

// Started reports whether the task had a first-scheduled timestamp when the
// snapshot was taken.
func (s Snapshot) Started() bool { return s.started }

type snapshotJSON struct {
	Status        Status            `json:"status"`
	SyscallCounts map[string]uint32 `json:"syscall_counts"`
	ElapsedMs     uint64            `json:"elapsed_ms"`
	Started       bool              `json:"started"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	counts := make(map[string]uint32)
	for id, n := range s.NonZeroSyscalls() {
		counts[strconv.Itoa(id)] = n
	}
	return json.Marshal(snapshotJSON{
		Status:        s.status,
		SyscallCounts: counts,
		ElapsedMs:     s.elapsed,
		Started:       s.started,
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Snapshot
	for key, n := range raw.SyscallCounts {
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("syscall_counts key %q: %w", key, err)
		}
		if id < 0 || id >= MaxSyscalls {
			return &SyscallOutOfRangeError{ID: id, Max: MaxSyscalls}
		}
		out.syscalls[id] = n
	}
	out.status = raw.Status
	out.elapsed = raw.ElapsedMs
	out.started = raw.Started
	*s = out
	return nil
}
