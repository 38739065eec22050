package domain

import "fmt"

// Status is the lifecycle stage of a task. The zero value is StatusUninitialized.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusReady
	StatusRunning
	StatusExited
)

var statusNames = [...]string{
	StatusUninitialized: "UNINITIALIZED",
	StatusReady:         "READY",
	StatusRunning:       "RUNNING",
	StatusExited:        "EXITED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool { return s == StatusExited }

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanTransition reports whether from -> to is a legal lifecycle move:
// Uninitialized -> Ready, Ready -> Running, Running -> Running,
// Running -> Ready (the task yielded), and any non-terminal state -> Exited.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusExited:
		return true
	case StatusReady:
		return from == StatusUninitialized || from == StatusRunning
	case StatusRunning:
		return from == StatusReady || from == StatusRunning
	default:
		return false
	}
}
