package kairo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is a persisted snapshot of execution position and state.
//
// Node is the *next* node to execute — routing has already been applied when
// a checkpoint is written, so resumption never re-runs a completed handler.
// A run that terminated saves its final checkpoint with Node == End;
// resuming it returns the final state without executing anything.
type Checkpoint struct {
	ID      uuid.UUID `json:"id"`
	Node    string    `json:"node"`
	State   State     `json:"state"`
	Step    int       `json:"step"`
	SavedAt time.Time `json:"saved_at"`
}

// CheckpointStore persists checkpoints for resumption. Saving under an
// existing id overwrites (the engine rewrites the same id after every node).
// State.Values must hold JSON-serializable values for the persistent
// implementations; see store/memory, store/sqlite and store/postgres.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns (nil, nil) when no checkpoint exists under id.
	LoadCheckpoint(ctx context.Context, id uuid.UUID) (*Checkpoint, error)
}
