package delegate

import (
	"slices"
	"sync/atomic"
)

// Worker is a worker agent's advertised state: its capabilities and how much
// concurrent work it accepts. The active-task counter is atomic so
// concurrent delegations can acquire and release load without a lock.
type Worker struct {
	ID            string
	Tools         []string
	Intents       []string
	MaxConcurrent int

	active atomic.Int64
}

// NewWorker returns a worker advertising the given capability sets.
func NewWorker(id string, maxConcurrent int, tools, intents []string) *Worker {
	return &Worker{
		ID:            id,
		Tools:         slices.Clone(tools),
		Intents:       slices.Clone(intents),
		MaxConcurrent: maxConcurrent,
	}
}

// HasCapability reports whether the worker's supported tools or supported
// intents contain c.
func (w *Worker) HasCapability(c string) bool {
	return slices.Contains(w.Tools, c) || slices.Contains(w.Intents, c)
}

// ActiveTasks returns the current in-flight task count.
func (w *Worker) ActiveTasks() int {
	return int(w.active.Load())
}

// HasSpare reports whether the worker is below its concurrency limit.
func (w *Worker) HasSpare() bool {
	return w.MaxConcurrent > 0 && w.ActiveTasks() < w.MaxConcurrent
}

// Acquire increments the in-flight count. Spare capacity is advisory — a
// saturated worker can still be acquired, since PriorityBased selection may
// pick one when every worker is at its limit.
func (w *Worker) Acquire() {
	w.active.Add(1)
}

// Release decrements the in-flight count.
func (w *Worker) Release() {
	w.active.Add(-1)
}
