package kairo

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Invoke drives the graph to completion over the initial state and returns
// the final state. On failure the returned state is the last successful one,
// alongside the error: ErrMaxSteps, ErrTimeout, ErrNodeNotFound,
// ErrCheckpointNotFound, a *NodeError wrapping a handler failure, or the
// context's error when cancelled between node executions.
func (g *CompiledGraph) Invoke(ctx context.Context, initial State, opts ...ExecOption) (State, error) {
	o, err := resolveExecOptions(opts)
	if err != nil {
		return initial, err
	}
	return g.run(ctx, initial, o, func(Event) bool { return true })
}

// run is the single driver behind Invoke and Stream: an iterative loop with
// a step counter, so cycle depth is bounded by the step budget rather than
// the call stack. emit receives every event in execution order; returning
// false stops the run before the next node executes (stream consumers
// breaking out of the loop).
func (g *CompiledGraph) run(ctx context.Context, initial State, o execOptions, emit func(Event) bool) (State, error) {
	state := initial
	if state.Values == nil {
		state.Values = map[string]any{}
	}
	current := g.entry
	step := 0
	start := time.Now()

	if o.resume {
		cp, err := o.checkpoints.LoadCheckpoint(ctx, o.checkpointID)
		if err != nil {
			return state, g.fail(emit, current, step, state, fmt.Errorf("kairo: load checkpoint %s: %w", o.checkpointID, err))
		}
		if cp == nil {
			return state, g.fail(emit, current, step, state, fmt.Errorf("%w: %s", ErrCheckpointNotFound, o.checkpointID))
		}
		state, current, step = cp.State, cp.Node, cp.Step
		if state.Values == nil {
			state.Values = map[string]any{}
		}
		o.logger.Debug("resumed from checkpoint", "checkpoint_id", o.checkpointID, "node", current, "step", step)
		if current == End {
			emit(Event{Type: EventGraphCompleted, Node: state.CurrentNode, State: state.Clone(), Step: step})
			return state, nil
		}
	}

	for {
		// Cooperative cancellation and budget checks happen between node
		// executions only; a running handler is never interrupted here.
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("kairo: run cancelled: %w", err)
		}
		if step >= o.maxSteps {
			return state, g.fail(emit, current, step, state, fmt.Errorf("%w: budget %d", ErrMaxSteps, o.maxSteps))
		}
		if o.timeout > 0 && time.Since(start) > o.timeout {
			return state, g.fail(emit, current, step, state, fmt.Errorf("%w: budget %s", ErrTimeout, o.timeout))
		}

		handler, ok := g.nodes[current]
		if !ok {
			return state, g.fail(emit, current, step, state, fmt.Errorf("%w: %q", ErrNodeNotFound, current))
		}

		if !emit(Event{Type: EventNodeStarted, Node: current, State: state.Clone(), Step: step}) {
			return state, nil
		}

		nodeCtx, span := g.tracer.Start(withNode(ctx, current, step), "kairo.node",
			trace.WithAttributes(
				attribute.String("kairo.node", current),
				attribute.Int("kairo.step", step),
			))
		began := time.Now()
		next, err := handler(nodeCtx, state)
		duration := time.Since(began)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			nodeErr := &NodeError{Node: current, Err: err}
			o.logger.Error("node failed", "node", current, "step", step, "duration", duration, "error", err)
			emit(Event{Type: EventNodeFailed, Node: current, State: state.Clone(), Step: step, Duration: duration, Err: nodeErr})
			return state, nodeErr
		}
		span.End()

		step++
		state = next
		if state.Values == nil {
			state.Values = map[string]any{}
		}
		state.CurrentNode = current
		state.Step = step
		o.logger.Debug("node completed", "node", current, "step", step, "duration", duration)

		if !emit(Event{Type: EventNodeCompleted, Node: current, State: state.Clone(), Step: step, Duration: duration}) {
			return state, nil
		}

		next2, terminal := g.route(ctx, current, state)

		if o.checkpoints != nil {
			cpNode := next2
			if terminal {
				cpNode = End
			}
			cp := Checkpoint{
				ID:      o.checkpointID,
				Node:    cpNode,
				State:   state.Clone(),
				Step:    step,
				SavedAt: time.Now().UTC(),
			}
			if err := o.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
				return state, g.fail(emit, current, step, state, fmt.Errorf("kairo: save checkpoint %s: %w", o.checkpointID, err))
			}
		}

		if terminal {
			emit(Event{Type: EventGraphCompleted, Node: current, State: state.Clone(), Step: step})
			return state, nil
		}

		if !emit(Event{Type: EventEdgeTraversed, Node: next2, State: state.Clone(), Step: step}) {
			return state, nil
		}
		current = next2
	}
}

// route determines the node after current against the post-handler state:
// conditional edges in registration order first, then the static edge, then
// termination (declared exit point or dead end). terminal is true when the
// run ends here.
func (g *CompiledGraph) route(ctx context.Context, current string, state State) (next string, terminal bool) {
	for _, r := range g.conditional[current] {
		switch d := r(ctx, state); d {
		case "":
			continue
		case End:
			return "", true
		default:
			return d, false
		}
	}
	if to, ok := g.static[current]; ok {
		return to, false
	}
	return "", true
}

// fail emits the terminal GraphFailed event and passes the error through,
// so Stream consumers observe driver-level failures as events.
func (g *CompiledGraph) fail(emit func(Event) bool, node string, step int, state State, err error) error {
	emit(Event{Type: EventGraphFailed, Node: node, State: state.Clone(), Step: step, Err: err})
	return err
}
