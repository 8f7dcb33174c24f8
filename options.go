package kairo

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSteps is the step budget applied when WithMaxSteps is not given.
const DefaultMaxSteps = 100

// ExecOption configures a single Invoke or Stream call.
type ExecOption func(*execOptions)

// execOptions holds per-invocation configuration after applying defaults.
// Unexported — callers use the With* functions.
type execOptions struct {
	maxSteps     int
	timeout      time.Duration
	logger       *slog.Logger
	checkpoints  CheckpointStore
	checkpointID uuid.UUID
	resume       bool
}

// WithMaxSteps overrides the step budget. The run fails with ErrMaxSteps
// rather than execute more than n nodes. n must be positive.
func WithMaxSteps(n int) ExecOption {
	return func(o *execOptions) { o.maxSteps = n }
}

// WithTimeout bounds the run's wall-clock time. The budget is checked
// between node executions only — a handler already running is not
// interrupted (pass a deadline context for preemptive cancellation).
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) { o.timeout = d }
}

// WithLogger sets the structured logger for the run.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) ExecOption {
	return func(o *execOptions) { o.logger = logger }
}

// WithCheckpointing saves a checkpoint under id after every successful node
// completion, so a later call can resume with WithResume.
func WithCheckpointing(store CheckpointStore, id uuid.UUID) ExecOption {
	return func(o *execOptions) {
		o.checkpoints = store
		o.checkpointID = id
	}
}

// WithResume starts the run from the checkpoint stored under id instead of
// the entry point, and keeps checkpointing under the same id as the run
// progresses. Fails with ErrCheckpointNotFound when no checkpoint exists.
func WithResume(store CheckpointStore, id uuid.UUID) ExecOption {
	return func(o *execOptions) {
		o.checkpoints = store
		o.checkpointID = id
		o.resume = true
	}
}

func resolveExecOptions(opts []ExecOption) (execOptions, error) {
	o := execOptions{maxSteps: DefaultMaxSteps}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxSteps <= 0 {
		return execOptions{}, fmt.Errorf("%w: max steps must be positive, got %d", ErrInvalidOptions, o.maxSteps)
	}
	if o.timeout < 0 {
		return execOptions{}, fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidOptions, o.timeout)
	}
	return o, nil
}
