package delegate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Supervisor persists delegated work. Submission is synchronous and
// assignment is not: workers pick tasks up out of band, and any wait for
// completion is constructed by the caller polling Result.
type Supervisor struct {
	store  TaskStore
	logger *slog.Logger
}

// NewSupervisor returns a supervisor writing through the given store.
func NewSupervisor(store TaskStore, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{store: store, logger: logger}
}

// SubmitTasks persists each task with status pending and returns the
// generated ids in submission order. It never blocks on task completion.
// On a store failure it returns the ids persisted so far alongside the
// error.
func (s *Supervisor) SubmitTasks(ctx context.Context, tasks []Task) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(tasks))
	now := time.Now().UTC()
	for i := range tasks {
		t := tasks[i]
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.Status = StatusPending
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := s.store.SaveTask(ctx, &t); err != nil {
			return ids, fmt.Errorf("delegate: submit task %s: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
	}
	s.logger.Debug("tasks submitted", "count", len(ids))
	return ids, nil
}

// Result returns the task's result, or (nil, nil) while none exists yet.
func (s *Supervisor) Result(ctx context.Context, id uuid.UUID) (*Result, error) {
	return s.store.Result(ctx, id)
}

// AwaitResult polls the store until a result appears, the task reaches a
// terminal status without one (manual cancelled/blocked marks), or ctx is
// done. It exists for application nodes that explicitly choose to wait —
// the engine itself never calls it.
func (s *Supervisor) AwaitResult(ctx context.Context, id uuid.UUID, poll time.Duration) (*Result, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		r, err := s.store.Result(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("delegate: await result %s: %w", id, err)
		}
		if r != nil {
			return r, nil
		}
		t, err := s.store.Task(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("delegate: await result %s: %w", id, err)
		}
		if t == nil {
			return nil, fmt.Errorf("delegate: await result: %w: %s", ErrTaskNotFound, id)
		}
		if t.Status.Terminal() {
			return nil, fmt.Errorf("delegate: task %s is %s with no result", id, t.Status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
