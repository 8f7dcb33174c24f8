package delegate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo/delegate"
	"github.com/ashita-ai/kairo/store/memory"
)

func TestPoolRunFailsWithoutWorkers(t *testing.T) {
	pool := delegate.NewPool(memory.New(), delegate.NewBalancer(), nil, "", 0, nil)
	require.Error(t, pool.Run(context.Background()))
}

func TestPoolRunIsNoOpWithoutPendingTasks(t *testing.T) {
	workers := []*delegate.Worker{delegate.NewWorker("w1", 1, nil, nil)}
	pool := delegate.NewPool(memory.New(), delegate.NewBalancer(), workers, "", 0, nil)
	require.NoError(t, pool.Run(context.Background()))
}

func TestPoolExecutesPendingTasksAndSavesResults(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sup := delegate.NewSupervisor(store, nil)

	ids, err := sup.SubmitTasks(ctx, []delegate.Task{
		{Type: "sum", Input: map[string]any{"a": float64(2), "b": float64(3)}},
		{Type: "sum", Input: map[string]any{"a": float64(10), "b": float64(5)}},
	})
	require.NoError(t, err)

	workers := []*delegate.Worker{delegate.NewWorker("calc", 2, nil, []string{"sum"})}
	pool := delegate.NewPool(store, delegate.NewBalancer(), workers, delegate.CapabilityBased, 0, nil)
	pool.Register("sum", func(_ context.Context, task delegate.Task, _ *delegate.Worker) (map[string]any, error) {
		return map[string]any{"total": task.Input["a"].(float64) + task.Input["b"].(float64)}, nil
	})

	require.NoError(t, pool.Run(ctx))

	r, err := store.Result(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Success)
	assert.Equal(t, float64(5), r.Output["total"])
	assert.Equal(t, "calc", r.WorkerID)

	saved, err := store.Task(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, delegate.StatusCompleted, saved.Status)

	r, err = store.Result(ctx, ids[1])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, float64(15), r.Output["total"])
}

func TestPoolExecutorFailureSavesFailedResult(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sup := delegate.NewSupervisor(store, nil)

	ids, err := sup.SubmitTasks(ctx, []delegate.Task{{Type: "flaky"}})
	require.NoError(t, err)

	workers := []*delegate.Worker{delegate.NewWorker("w1", 1, nil, nil)}
	pool := delegate.NewPool(store, delegate.NewBalancer(), workers, "", 0, nil)
	pool.Register("flaky", func(_ context.Context, _ delegate.Task, _ *delegate.Worker) (map[string]any, error) {
		return nil, errors.New("upstream 503")
	})

	require.NoError(t, pool.Run(ctx))

	r, err := store.Result(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "upstream 503")

	saved, err := store.Task(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, delegate.StatusFailed, saved.Status)
}

func TestPoolUnregisteredTaskTypeFailsTaskNotPool(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sup := delegate.NewSupervisor(store, nil)

	ids, err := sup.SubmitTasks(ctx, []delegate.Task{{Type: "mystery"}})
	require.NoError(t, err)

	workers := []*delegate.Worker{delegate.NewWorker("w1", 1, nil, nil)}
	pool := delegate.NewPool(store, delegate.NewBalancer(), workers, "", 0, nil)

	require.NoError(t, pool.Run(ctx))

	r, err := store.Result(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "mystery")
}

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sup := delegate.NewSupervisor(store, nil)

	tasks := make([]delegate.Task, 12)
	for i := range tasks {
		tasks[i] = delegate.Task{Type: "busy"}
	}
	_, err := sup.SubmitTasks(ctx, tasks)
	require.NoError(t, err)

	var inFlight, peak atomic.Int64
	var mu sync.Mutex
	workers := []*delegate.Worker{
		delegate.NewWorker("w1", 12, nil, nil),
		delegate.NewWorker("w2", 12, nil, nil),
	}
	pool := delegate.NewPool(store, delegate.NewBalancer(), workers, delegate.RoundRobin, 3, nil)
	pool.Register("busy", func(_ context.Context, _ delegate.Task, _ *delegate.Worker) (map[string]any, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		defer inFlight.Add(-1)
		return nil, nil
	})

	require.NoError(t, pool.Run(ctx))
	assert.LessOrEqual(t, peak.Load(), int64(3))

	remaining, err := store.TasksByStatus(ctx, delegate.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPoolReleasesWorkerLoadAfterExecution(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sup := delegate.NewSupervisor(store, nil)

	_, err := sup.SubmitTasks(ctx, []delegate.Task{{Type: "x"}, {Type: "x"}, {Type: "x"}})
	require.NoError(t, err)

	w := delegate.NewWorker("w1", 1, nil, nil)
	pool := delegate.NewPool(store, delegate.NewBalancer(), []*delegate.Worker{w}, "", 1, nil)
	pool.Register("x", func(_ context.Context, _ delegate.Task, _ *delegate.Worker) (map[string]any, error) {
		return nil, nil
	})

	require.NoError(t, pool.Run(ctx))
	assert.Zero(t, w.ActiveTasks())
}
