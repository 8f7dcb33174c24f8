// Package memory provides in-memory implementations of the delegate
// TaskStore and the kairo CheckpointStore, suitable for tests and
// single-process embeddings.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kairo"
	"github.com/ashita-ai/kairo/delegate"
)

// Store keeps tasks, results and checkpoints in mutex-guarded maps.
// Writes to the same id resolve last-write-wins; entries are copied on the
// way in and out so callers never share map memory with the store.
type Store struct {
	mu          sync.RWMutex
	tasks       map[uuid.UUID]delegate.Task
	results     map[uuid.UUID]delegate.Result
	checkpoints map[uuid.UUID]kairo.Checkpoint
}

var (
	_ delegate.TaskStore    = (*Store)(nil)
	_ kairo.CheckpointStore = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		tasks:       map[uuid.UUID]delegate.Task{},
		results:     map[uuid.UUID]delegate.Result{},
		checkpoints: map[uuid.UUID]kairo.Checkpoint{},
	}
}

// SaveTask inserts or overwrites the task under its id.
func (s *Store) SaveTask(_ context.Context, t *delegate.Task) error {
	if t == nil {
		return delegate.ErrNilTask
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(*t)
	return nil
}

// Task returns the task under id, or (nil, nil) when absent.
func (s *Store) Task(_ context.Context, id uuid.UUID) (*delegate.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	out := cloneTask(t)
	return &out, nil
}

// SaveResult stores the result and moves the owning task to completed or
// failed under the same lock, so the two writes are observed atomically.
func (s *Store) SaveResult(_ context.Context, r *delegate.Result) error {
	if r == nil {
		return delegate.ErrNilResult
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.TaskID] = cloneResult(*r)
	if t, ok := s.tasks[r.TaskID]; ok {
		if r.Success {
			t.Status = delegate.StatusCompleted
		} else {
			t.Status = delegate.StatusFailed
		}
		t.UpdatedAt = time.Now().UTC()
		s.tasks[r.TaskID] = t
	}
	return nil
}

// Result returns the result for id, or (nil, nil) when absent.
func (s *Store) Result(_ context.Context, id uuid.UUID) (*delegate.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, nil
	}
	out := cloneResult(r)
	return &out, nil
}

// UpdateStatus transitions the task's status directly.
func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, status delegate.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", delegate.ErrTaskNotFound, id)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	return nil
}

// TasksByStatus returns tasks in the given status, oldest first.
func (s *Store) TasksByStatus(_ context.Context, status delegate.Status) ([]*delegate.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*delegate.Task
	for _, t := range s.tasks {
		if t.Status == status {
			c := cloneTask(t)
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *delegate.Task) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// SaveCheckpoint inserts or overwrites the checkpoint under its id.
func (s *Store) SaveCheckpoint(_ context.Context, cp kairo.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.State = cp.State.Clone()
	s.checkpoints[cp.ID] = cp
	return nil
}

// LoadCheckpoint returns the checkpoint under id, or (nil, nil) when absent.
func (s *Store) LoadCheckpoint(_ context.Context, id uuid.UUID) (*kairo.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, nil
	}
	cp.State = cp.State.Clone()
	return &cp, nil
}

func cloneTask(t delegate.Task) delegate.Task {
	t.Input = maps.Clone(t.Input)
	return t
}

func cloneResult(r delegate.Result) delegate.Result {
	r.Output = maps.Clone(r.Output)
	return r
}
