// Package kairo is a stateful, graph-based agent execution engine.
//
// A workflow is assembled with a Builder: named nodes (units of work that
// receive and return State), static edges, and conditional edges evaluated
// in registration order. Compile() freezes the definition into an immutable
// CompiledGraph that can be invoked any number of times, concurrently:
//
//	b := kairo.NewBuilder()
//	_ = b.AddNode("classify", classifyFn)
//	_ = b.AddNode("respond", respondFn)
//	b.AddConditionalEdge("classify", routeFn)
//	_ = b.SetEntryPoint("classify")
//	g, err := b.Compile()
//	if err != nil { ... }
//	final, err := g.Invoke(ctx, kairo.NewState())
//
// Invoke drives the graph to completion and returns the final state.
// Stream yields one Event per transition as a lazy, pull-based sequence.
// Execution is bounded by a step budget and an optional wall-clock timeout,
// and can be checkpointed and resumed through a CheckpointStore.
//
// The engine never talks to LLM providers, vector stores, or the network —
// node handlers own all external I/O. Delegating work to a pool of worker
// agents lives in the delegate package; reference store adapters live under
// store/.
package kairo

import "context"

// End is the routing sentinel a Router returns to terminate the run.
const End = "__end__"

// Handler is a node's unit of work. It receives the current state and must
// return a complete replacement state: the engine performs no merging, so
// any field the handler does not change must be copied forward (State.Clone
// makes that cheap). A returned error fails the run as a *NodeError; the
// engine never retries.
type Handler func(ctx context.Context, s State) (State, error)

// Router decides where a conditional edge leads, based on the post-handler
// state. It returns a node name, End to terminate, or "" to decline so the
// next registered conditional edge (or the static edge) is consulted.
type Router func(ctx context.Context, s State) string
