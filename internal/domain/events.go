package domain

import "time"

// LifecycleEvent is emitted by the scheduler each time it moves a task to a new status.
type LifecycleEvent struct {
	ID       string    `json:"id"`
	KernelID string    `json:"kernel_id"`
	TaskID   int       `json:"task_id"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	ExitCode int       `json:"exit_code,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
	At       time.Time `json:"at"`
}

// ExitRecord is the final accounting of a task once it has exited.
type ExitRecord struct {
	ID       string    `json:"id"`
	KernelID string    `json:"kernel_id"`
	TaskID   int       `json:"task_id"`
	Name     string    `json:"name"`
	ExitCode int       `json:"exit_code"`
	Snapshot Snapshot  `json:"snapshot"`
	ExitedAt time.Time `json:"exited_at"`
}
