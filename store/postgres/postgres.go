// Package postgres provides a PostgreSQL-backed implementation of the
// delegate TaskStore and the kairo CheckpointStore over pgx. It is the
// store to use when several engine processes share task and checkpoint
// state, or when runs must survive the death of any single process.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kairo"
	"github.com/ashita-ai/kairo/delegate"
)

//go:embed schema.sql
var schema string

// Store wraps a pgxpool.Pool and implements both store interfaces.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ delegate.TaskStore    = (*Store)(nil)
	_ kairo.CheckpointStore = (*Store)(nil)
)

// New creates a Store with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping pool: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema. The statements are idempotent, so
// running it on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	s.logger.Debug("postgres: schema applied")
	return nil
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveTask upserts the task under its id.
func (s *Store) SaveTask(ctx context.Context, t *delegate.Task) error {
	if t == nil {
		return delegate.ErrNilTask
	}
	input := t.Input
	if input == nil {
		input = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, task_type, input, required_capability, priority, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   task_type = EXCLUDED.task_type,
		   input = EXCLUDED.input,
		   required_capability = EXCLUDED.required_capability,
		   priority = EXCLUDED.priority,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		t.ID, t.Type, input, t.RequiredCapability, t.Priority,
		string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save task: %w", err)
	}
	return nil
}

// Task returns the task under id, or (nil, nil) when absent.
func (s *Store) Task(ctx context.Context, id uuid.UUID) (*delegate.Task, error) {
	var (
		t      delegate.Task
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, task_type, input, required_capability, priority, status, created_at, updated_at
		 FROM tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.Type, &t.Input, &t.RequiredCapability, &t.Priority, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get task: %w", err)
	}
	t.Status = delegate.Status(status)
	return &t, nil
}

// SaveResult upserts the result and updates the owning task's status
// atomically within a single transaction. Serialization conflicts with
// concurrent writers are retried.
func (s *Store) SaveResult(ctx context.Context, r *delegate.Result) error {
	if r == nil {
		return delegate.ErrNilResult
	}
	return withRetry(ctx, 3, 10*time.Millisecond, func() error {
		return s.saveResultTx(ctx, r)
	})
}

func (s *Store) saveResultTx(ctx context.Context, r *delegate.Result) error {
	output := r.Output
	if output == nil {
		output = map[string]any{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save result tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO task_results (task_id, success, output, error, worker_id, duration_ns, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (task_id) DO UPDATE SET
		   success = EXCLUDED.success,
		   output = EXCLUDED.output,
		   error = EXCLUDED.error,
		   worker_id = EXCLUDED.worker_id,
		   duration_ns = EXCLUDED.duration_ns,
		   completed_at = EXCLUDED.completed_at`,
		r.TaskID, r.Success, output, r.Error, r.WorkerID, r.Duration.Nanoseconds(), r.CompletedAt,
	); err != nil {
		return fmt.Errorf("postgres: save result: %w", err)
	}

	status := delegate.StatusFailed
	if r.Success {
		status = delegate.StatusCompleted
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), r.TaskID,
	); err != nil {
		return fmt.Errorf("postgres: update task status for result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save result tx: %w", err)
	}
	return nil
}

// Result returns the result for id, or (nil, nil) when absent.
func (s *Store) Result(ctx context.Context, id uuid.UUID) (*delegate.Result, error) {
	var (
		r          delegate.Result
		durationNS int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT task_id, success, output, error, worker_id, duration_ns, completed_at
		 FROM task_results WHERE task_id = $1`, id,
	).Scan(&r.TaskID, &r.Success, &r.Output, &r.Error, &r.WorkerID, &durationNS, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get result: %w", err)
	}
	r.Duration = time.Duration(durationNS)
	return &r, nil
}

// UpdateStatus transitions the task's status directly.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status delegate.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", delegate.ErrTaskNotFound, id)
	}
	return nil
}

// TasksByStatus returns tasks in the given status, oldest first.
func (s *Store) TasksByStatus(ctx context.Context, status delegate.Status) ([]*delegate.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_type, input, required_capability, priority, status, created_at, updated_at
		 FROM tasks WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks by status: %w", err)
	}
	defer rows.Close()

	var out []*delegate.Task
	for rows.Next() {
		var (
			t  delegate.Task
			st string
		)
		if err := rows.Scan(&t.ID, &t.Type, &t.Input, &t.RequiredCapability, &t.Priority, &st, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		t.Status = delegate.Status(st)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate tasks: %w", err)
	}
	return out, nil
}

// SaveCheckpoint upserts the checkpoint. The State is marshaled to JSONB,
// so State.Values must hold JSON-serializable values.
func (s *Store) SaveCheckpoint(ctx context.Context, cp kairo.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal checkpoint state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, node, state, step, saved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   node = EXCLUDED.node,
		   state = EXCLUDED.state,
		   step = EXCLUDED.step,
		   saved_at = EXCLUDED.saved_at`,
		cp.ID, cp.Node, state, cp.Step, cp.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint under id, or (nil, nil) when absent.
func (s *Store) LoadCheckpoint(ctx context.Context, id uuid.UUID) (*kairo.Checkpoint, error) {
	var (
		cp    kairo.Checkpoint
		state []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, node, state, step, saved_at FROM checkpoints WHERE id = $1`, id,
	).Scan(&cp.ID, &cp.Node, &state, &cp.Step, &cp.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get checkpoint: %w", err)
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal checkpoint state: %w", err)
	}
	return &cp, nil
}
