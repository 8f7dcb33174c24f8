// Package sqlite provides an embedded, file-backed implementation of the
// delegate TaskStore and the kairo CheckpointStore using the pure-Go
// modernc.org/sqlite driver. It suits single-binary deployments that need
// task and checkpoint state to survive restarts without running a database
// server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kairo"
	"github.com/ashita-ai/kairo/delegate"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	task_type           TEXT NOT NULL,
	input               TEXT NOT NULL DEFAULT '{}',
	required_capability TEXT NOT NULL DEFAULT '',
	priority            INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status, created_at);

CREATE TABLE IF NOT EXISTS task_results (
	task_id      TEXT PRIMARY KEY,
	success      INTEGER NOT NULL,
	output       TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	worker_id    TEXT NOT NULL,
	duration_ns  INTEGER NOT NULL,
	completed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id       TEXT PRIMARY KEY,
	node     TEXT NOT NULL,
	state    TEXT NOT NULL,
	step     INTEGER NOT NULL,
	saved_at TEXT NOT NULL
);
`

// Store is a SQLite-backed TaskStore and CheckpointStore. A single write
// connection serializes writers (SQLite allows one at a time anyway), so
// concurrent same-id writes resolve last-write-wins without SQLITE_BUSY
// churn.
type Store struct {
	db *sql.DB
}

var (
	_ delegate.TaskStore    = (*Store)(nil)
	_ kairo.CheckpointStore = (*Store)(nil)
)

// New opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTask upserts the task under its id.
func (s *Store) SaveTask(ctx context.Context, t *delegate.Task) error {
	if t == nil {
		return delegate.ErrNilTask
	}
	input, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("sqlite: marshal task input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, task_type, input, required_capability, priority, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   task_type = excluded.task_type,
		   input = excluded.input,
		   required_capability = excluded.required_capability,
		   priority = excluded.priority,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		t.ID.String(), t.Type, string(input), t.RequiredCapability, t.Priority,
		string(t.Status), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save task: %w", err)
	}
	return nil
}

// Task returns the task under id, or (nil, nil) when absent.
func (s *Store) Task(ctx context.Context, id uuid.UUID) (*delegate.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_type, input, required_capability, priority, status, created_at, updated_at
		 FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task: %w", err)
	}
	return t, nil
}

// SaveResult upserts the result and updates the owning task's status in one
// transaction, so the two writes are atomic.
func (s *Store) SaveResult(ctx context.Context, r *delegate.Result) error {
	if r == nil {
		return delegate.ErrNilResult
	}
	output, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Errorf("sqlite: marshal result output: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save result: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_results (task_id, success, output, error, worker_id, duration_ns, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (task_id) DO UPDATE SET
		   success = excluded.success,
		   output = excluded.output,
		   error = excluded.error,
		   worker_id = excluded.worker_id,
		   duration_ns = excluded.duration_ns,
		   completed_at = excluded.completed_at`,
		r.TaskID.String(), boolToInt(r.Success), string(output), r.Error,
		r.WorkerID, r.Duration.Nanoseconds(), formatTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save result: %w", err)
	}

	status := delegate.StatusFailed
	if r.Success {
		status = delegate.StatusCompleted
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), r.TaskID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update task status for result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save result: %w", err)
	}
	return nil
}

// Result returns the result for id, or (nil, nil) when absent.
func (s *Store) Result(ctx context.Context, id uuid.UUID) (*delegate.Result, error) {
	var (
		r           delegate.Result
		taskID      string
		success     int
		output      string
		durationNS  int64
		completedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, success, output, error, worker_id, duration_ns, completed_at
		 FROM task_results WHERE task_id = ?`, id.String(),
	).Scan(&taskID, &success, &output, &r.Error, &r.WorkerID, &durationNS, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get result: %w", err)
	}
	r.TaskID, err = uuid.Parse(taskID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse result task id: %w", err)
	}
	r.Success = success != 0
	r.Duration = time.Duration(durationNS)
	if r.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse result completed_at: %w", err)
	}
	if err := json.Unmarshal([]byte(output), &r.Output); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal result output: %w", err)
	}
	return &r, nil
}

// UpdateStatus transitions the task's status directly.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status delegate.Status) error {
	tag, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update status: %w", err)
	}
	n, err := tag.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update status rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", delegate.ErrTaskNotFound, id)
	}
	return nil
}

// TasksByStatus returns tasks in the given status, oldest first.
func (s *Store) TasksByStatus(ctx context.Context, status delegate.Status) ([]*delegate.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_type, input, required_capability, priority, status, created_at, updated_at
		 FROM tasks WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks by status: %w", err)
	}
	defer rows.Close()

	var out []*delegate.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveCheckpoint upserts the checkpoint; the whole State is stored as JSON,
// so State.Values must hold JSON-serializable values.
func (s *Store) SaveCheckpoint(ctx context.Context, cp kairo.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("sqlite: marshal checkpoint state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, node, state, step, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   node = excluded.node,
		   state = excluded.state,
		   step = excluded.step,
		   saved_at = excluded.saved_at`,
		cp.ID.String(), cp.Node, string(state), cp.Step, formatTime(cp.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint under id, or (nil, nil) when absent.
func (s *Store) LoadCheckpoint(ctx context.Context, id uuid.UUID) (*kairo.Checkpoint, error) {
	var (
		cp      kairo.Checkpoint
		cpID    string
		state   string
		savedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, node, state, step, saved_at FROM checkpoints WHERE id = ?`, id.String(),
	).Scan(&cpID, &cp.Node, &state, &cp.Step, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get checkpoint: %w", err)
	}
	if cp.ID, err = uuid.Parse(cpID); err != nil {
		return nil, fmt.Errorf("sqlite: parse checkpoint id: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal checkpoint state: %w", err)
	}
	if cp.SavedAt, err = parseTime(savedAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse checkpoint saved_at: %w", err)
	}
	return &cp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*delegate.Task, error) {
	var (
		t         delegate.Task
		id        string
		input     string
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&id, &t.Type, &input, &t.RequiredCapability, &t.Priority, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}
	t.Status = delegate.Status(status)
	if err := json.Unmarshal([]byte(input), &t.Input); err != nil {
		return nil, fmt.Errorf("unmarshal task input: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
