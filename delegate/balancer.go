package delegate

import (
	"math/rand/v2"
	"sync"
)

// Strategy names a load-balancing algorithm.
type Strategy string

const (
	// RoundRobin advances a single shared cursor by one on every call and
	// indexes into the worker list modulo its length.
	RoundRobin Strategy = "round_robin"

	// CapabilityBased filters to workers advertising the task's required
	// capability with spare capacity, then applies PriorityBased; when no
	// such worker exists it silently falls back to PriorityBased over the
	// full list.
	CapabilityBased Strategy = "capability_based"

	// PriorityBased prefers workers with spare capacity and the lowest
	// load ratio, tie-broken by the lowest absolute task count.
	PriorityBased Strategy = "priority_based"

	// Random picks uniformly.
	Random Strategy = "random"
)

// Balancer selects a worker per task. The round-robin cursor is scoped to
// the instance and guarded by a single mutex, so independent balancers do
// not interfere and concurrent selections neither skip nor duplicate
// positions. Selection has no side effects beyond that cursor.
type Balancer struct {
	mu     sync.Mutex
	cursor int
}

// NewBalancer returns a balancer with its cursor at zero.
func NewBalancer() *Balancer {
	return &Balancer{}
}

// Select picks a worker for the task using the given strategy. It returns
// nil only when workers is empty — a caller-visible signal, not an error.
// Unknown strategies fall back to PriorityBased.
func (b *Balancer) Select(workers []*Worker, task Task, strategy Strategy) *Worker {
	if len(workers) == 0 {
		return nil
	}
	switch strategy {
	case RoundRobin:
		b.mu.Lock()
		i := b.cursor % len(workers)
		b.cursor++
		b.mu.Unlock()
		return workers[i]
	case Random:
		return workers[rand.IntN(len(workers))]
	case CapabilityBased:
		return selectCapability(workers, task)
	default:
		return selectPriority(workers)
	}
}

func selectCapability(workers []*Worker, task Task) *Worker {
	if task.RequiredCapability == "" {
		return selectPriority(workers)
	}
	var matching []*Worker
	for _, w := range workers {
		if w.HasCapability(task.RequiredCapability) && w.HasSpare() {
			matching = append(matching, w)
		}
	}
	if len(matching) == 0 {
		// No capable worker with spare capacity: fall back to the full
		// list rather than failing the selection.
		return selectPriority(workers)
	}
	return selectPriority(matching)
}

func selectPriority(workers []*Worker) *Worker {
	candidates := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		if w.HasSpare() {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		candidates = workers
	}
	best := candidates[0]
	bestActive := best.ActiveTasks()
	for _, w := range candidates[1:] {
		active := w.ActiveTasks()
		switch cmpLoad(active, w.MaxConcurrent, bestActive, best.MaxConcurrent) {
		case -1:
			best, bestActive = w, active
		case 0:
			if active < bestActive {
				best, bestActive = w, active
			}
		}
	}
	return best
}

// cmpLoad compares load ratios activeA/maxA vs activeB/maxB by
// cross-multiplication to avoid float equality issues. A worker with a
// non-positive limit ranks as fully loaded.
func cmpLoad(activeA, maxA, activeB, maxB int) int {
	if maxA <= 0 && maxB <= 0 {
		return 0
	}
	if maxA <= 0 {
		return 1
	}
	if maxB <= 0 {
		return -1
	}
	a := int64(activeA) * int64(maxB)
	b := int64(activeB) * int64(maxA)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
