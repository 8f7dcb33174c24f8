package delegate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kairo/internal/telemetry"
)

// Executor runs one task on the worker it was assigned to and returns the
// task's output.
type Executor func(ctx context.Context, t Task, w *Worker) (map[string]any, error)

// Pool executes pending tasks from a TaskStore: it selects a worker through
// the Balancer, marks the task in_progress, runs the registered executor
// for the task type, and saves the result. Pool-wide concurrency is bounded
// by the errgroup limit; per-worker load is tracked through Acquire/Release.
type Pool struct {
	store       TaskStore
	balancer    *Balancer
	workers     []*Worker
	strategy    Strategy
	concurrency int
	executors   map[string]Executor
	logger      *slog.Logger

	tasksCompleted metric.Int64Counter
	tasksFailed    metric.Int64Counter
	taskDuration   metric.Float64Histogram
}

// NewPool wires a pool over the given store, balancer and workers.
// strategy defaults to CapabilityBased and concurrency to the worker count
// when non-positive.
func NewPool(store TaskStore, lb *Balancer, workers []*Worker, strategy Strategy, concurrency int, logger *slog.Logger) *Pool {
	if strategy == "" {
		strategy = CapabilityBased
	}
	if concurrency <= 0 {
		concurrency = len(workers)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:       store,
		balancer:    lb,
		workers:     workers,
		strategy:    strategy,
		concurrency: concurrency,
		executors:   map[string]Executor{},
		logger:      logger,
	}
	p.registerMetrics()
	return p
}

func (p *Pool) registerMetrics() {
	meter := telemetry.Meter("github.com/ashita-ai/kairo/delegate")
	var err error
	p.tasksCompleted, err = meter.Int64Counter("kairo.pool.tasks_completed",
		metric.WithDescription("Tasks that produced a successful result"))
	if err != nil {
		p.logger.Warn("pool: register tasks_completed counter failed", "error", err)
	}
	p.tasksFailed, err = meter.Int64Counter("kairo.pool.tasks_failed",
		metric.WithDescription("Tasks that produced a failed result"))
	if err != nil {
		p.logger.Warn("pool: register tasks_failed counter failed", "error", err)
	}
	p.taskDuration, err = meter.Float64Histogram("kairo.pool.task_duration_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		p.logger.Warn("pool: register task_duration histogram failed", "error", err)
	}
}

// Register installs the executor for a task type. Tasks of an unregistered
// type fail with a saved result rather than a pool error.
func (p *Pool) Register(taskType string, fn Executor) {
	p.executors[taskType] = fn
}

// Run drains the store: it repeatedly lists pending tasks and executes each
// batch concurrently, returning when no pending tasks remain or ctx is
// cancelled. Register executors and add workers before calling Run; the
// pool is not safe for concurrent Run calls.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.workers) == 0 {
		return fmt.Errorf("delegate: pool has no workers")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := p.store.TasksByStatus(ctx, StatusPending)
		if err != nil {
			return fmt.Errorf("delegate: list pending tasks: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for _, t := range pending {
			task := *t
			g.Go(func() error {
				p.execute(gctx, task)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (p *Pool) execute(ctx context.Context, t Task) {
	w := p.balancer.Select(p.workers, t, p.strategy)
	if w == nil {
		p.logger.Warn("no worker available", "task_id", t.ID, "task_type", t.Type)
		return
	}

	if err := p.store.UpdateStatus(ctx, t.ID, StatusInProgress); err != nil {
		p.logger.Error("mark task in_progress failed", "task_id", t.ID, "error", err)
		return
	}

	w.Acquire()
	defer w.Release()

	exec, ok := p.executors[t.Type]
	began := time.Now()
	var (
		output map[string]any
		err    error
	)
	if !ok {
		err = fmt.Errorf("delegate: no executor registered for task type %q", t.Type)
	} else {
		output, err = exec(ctx, t, w)
	}
	duration := time.Since(began)

	res := &Result{
		TaskID:      t.ID,
		WorkerID:    w.ID,
		Duration:    duration,
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		res.Error = err.Error()
		p.logger.Warn("task failed", "task_id", t.ID, "task_type", t.Type, "worker_id", w.ID, "error", err)
	} else {
		res.Success = true
		res.Output = output
		p.logger.Debug("task completed", "task_id", t.ID, "task_type", t.Type, "worker_id", w.ID, "duration", duration)
	}

	if saveErr := p.store.SaveResult(ctx, res); saveErr != nil {
		p.logger.Error("save result failed", "task_id", t.ID, "error", saveErr)
		return
	}

	attrs := metric.WithAttributes(attribute.String("task_type", t.Type), attribute.String("worker_id", w.ID))
	if res.Success {
		if p.tasksCompleted != nil {
			p.tasksCompleted.Add(ctx, 1, attrs)
		}
	} else if p.tasksFailed != nil {
		p.tasksFailed.Add(ctx, 1, attrs)
	}
	if p.taskDuration != nil {
		p.taskDuration.Record(ctx, duration.Seconds(), attrs)
	}
}
