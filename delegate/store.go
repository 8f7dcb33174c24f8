package delegate

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNilTask is returned by SaveTask when the task is nil.
	ErrNilTask = errors.New("delegate: nil task")

	// ErrNilResult is returned by SaveResult when the result is nil.
	ErrNilResult = errors.New("delegate: nil result")

	// ErrTaskNotFound is returned by UpdateStatus for an unknown task id.
	// Plain lookups never return it — absent ids read as (nil, nil).
	ErrTaskNotFound = errors.New("delegate: task not found")
)

// TaskStore is key-value persistence for tasks and their results, keyed by
// task id. Implementations must allow concurrent reads and writes to
// disjoint ids without corrupting unrelated entries; concurrent writes to
// the same id resolve last-write-wins.
type TaskStore interface {
	// SaveTask persists the task; an existing id is overwritten.
	SaveTask(ctx context.Context, t *Task) error

	// Task returns (nil, nil) when the id is absent.
	Task(ctx context.Context, id uuid.UUID) (*Task, error)

	// SaveResult persists the result and, atomically with that write,
	// moves the owning task to StatusCompleted or StatusFailed according
	// to Success.
	SaveResult(ctx context.Context, r *Result) error

	// Result returns (nil, nil) when no result exists for the id.
	Result(ctx context.Context, id uuid.UUID) (*Result, error)

	// UpdateStatus is a direct status transition independent of result
	// saving: pending → in_progress, or manual blocked/review/cancelled
	// marks.
	UpdateStatus(ctx context.Context, id uuid.UUID, s Status) error

	// TasksByStatus returns tasks currently in the given status, oldest
	// first.
	TasksByStatus(ctx context.Context, s Status) ([]*Task, error)
}
