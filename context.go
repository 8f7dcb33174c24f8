package kairo

import "context"

// Context keys live here rather than on the engine so handlers and the
// executors they delegate to can read run position without importing
// anything beyond this package.
type contextKey string

const (
	keyNode contextKey = "node"
	keyStep contextKey = "step"
)

// withNode returns a context carrying the executing node's name and step.
// The engine attaches it to the context every handler receives.
func withNode(ctx context.Context, node string, step int) context.Context {
	ctx = context.WithValue(ctx, keyNode, node)
	return context.WithValue(ctx, keyStep, step)
}

// NodeFromContext reports the name of the node currently executing, for
// handlers that share helper code across nodes and for log or span
// enrichment inside them. ok is false outside a graph run.
func NodeFromContext(ctx context.Context) (node string, ok bool) {
	node, ok = ctx.Value(keyNode).(string)
	return node, ok
}

// StepFromContext reports the zero-based step index of the executing node.
// ok is false outside a graph run.
func StepFromContext(ctx context.Context) (step int, ok bool) {
	step, ok = ctx.Value(keyStep).(int)
	return step, ok
}
