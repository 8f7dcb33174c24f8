// Package delegate turns delegated units of work into persisted tasks,
// selects a worker agent per task through a pluggable load-balancing
// strategy, and tracks each task through its status lifecycle.
//
// Delegation is fire-and-forget relative to the graph step that issues it:
// Supervisor.SubmitTasks persists tasks as pending and returns immediately;
// execution happens out of band — either through an application's own
// workers polling the TaskStore, or through a Pool pulling pending tasks and
// running registered executors.
package delegate

import (
	"time"

	"github.com/google/uuid"
)

// Status is a task's lifecycle marker. Valid transitions are
// pending → in_progress → one of the terminal states; terminal states do
// not transition further.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBlocked, StatusReview, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a delegated unit of work. ID is assigned by the Supervisor at
// submission and unique once saved.
type Task struct {
	ID                 uuid.UUID      `json:"id"`
	Type               string         `json:"type"`
	Input              map[string]any `json:"input"`
	RequiredCapability string         `json:"required_capability,omitempty"`
	Priority           int            `json:"priority"`
	Status             Status         `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Result is the outcome of executing a Task. Exactly one result per task id
// is observable; rewrites resolve last-write-wins.
type Result struct {
	TaskID      uuid.UUID      `json:"task_id"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	WorkerID    string         `json:"worker_id"`
	Duration    time.Duration  `json:"duration"`
	CompletedAt time.Time      `json:"completed_at"`
}
