package kairo

import (
	"context"
	"iter"
)

// Stream executes the graph like Invoke but yields one Event per transition
// as a lazy, pull-based sequence: the next node only runs once the consumer
// asks for the next event, so there is no buffering and no goroutine.
//
// Breaking out of the range loop — or ctx being cancelled — stops the run
// cooperatively between node executions; no further nodes execute and no
// GraphCompleted event is emitted. Driver failures (step budget, timeout,
// handler errors) surface as the sequence's final NodeFailed or GraphFailed
// event.
func (g *CompiledGraph) Stream(ctx context.Context, initial State, opts ...ExecOption) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		o, err := resolveExecOptions(opts)
		if err != nil {
			yield(Event{Type: EventGraphFailed, State: initial.Clone(), Err: err})
			return
		}
		_, _ = g.run(ctx, initial, o, yield)
	}
}
