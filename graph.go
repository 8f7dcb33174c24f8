package kairo

import (
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Builder assembles a graph definition: nodes, edges, entry and exit points.
// It is not safe for concurrent use; build the graph in one goroutine, then
// Compile and share the CompiledGraph freely.
type Builder struct {
	nodes       map[string]Handler
	static      map[string]string
	conditional map[string][]Router
	entry       string
	entrySet    bool
	exits       map[string]struct{}
}

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:       map[string]Handler{},
		static:      map[string]string{},
		conditional: map[string][]Router{},
		exits:       map[string]struct{}{},
	}
}

// AddNode registers a named node. Fails with ErrDuplicateNode when the name
// is already taken.
func (b *Builder) AddNode(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("kairo: node name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("kairo: node %q: handler must not be nil", name)
	}
	if _, ok := b.nodes[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, name)
	}
	b.nodes[name] = h
	return nil
}

// AddEdge registers the static transition from → to. Each node holds at most
// one static edge. Fails with ErrUnknownNode when either endpoint is
// unregistered.
func (b *Builder) AddEdge(from, to string) error {
	if _, ok := b.nodes[from]; !ok {
		return fmt.Errorf("%w: edge source %q", ErrUnknownNode, from)
	}
	if _, ok := b.nodes[to]; !ok {
		return fmt.Errorf("%w: edge target %q", ErrUnknownNode, to)
	}
	if prev, ok := b.static[from]; ok {
		return fmt.Errorf("kairo: node %q already has a static edge to %q", from, prev)
	}
	b.static[from] = to
	return nil
}

// AddConditionalEdge appends a routing decision to from's ordered list.
// Conditional edges are evaluated in registration order at runtime; the
// first Router returning a non-empty decision wins. The source node is
// validated at Compile time.
func (b *Builder) AddConditionalEdge(from string, r Router) {
	b.conditional[from] = append(b.conditional[from], r)
}

// SetEntryPoint designates the node execution starts from.
// Fails with ErrUnknownNode when the node is unregistered.
func (b *Builder) SetEntryPoint(name string) error {
	if _, ok := b.nodes[name]; !ok {
		return fmt.Errorf("%w: entry point %q", ErrUnknownNode, name)
	}
	b.entry = name
	b.entrySet = true
	return nil
}

// AddExitPoint declares a terminal node. Reaching it ends the run
// successfully. Fails with ErrUnknownNode when the node is unregistered.
func (b *Builder) AddExitPoint(name string) error {
	if _, ok := b.nodes[name]; !ok {
		return fmt.Errorf("%w: exit point %q", ErrUnknownNode, name)
	}
	b.exits[name] = struct{}{}
	return nil
}

// Compile validates the definition and freezes it into an immutable
// CompiledGraph. On failure it returns a *ValidationError enumerating every
// defect found. The compiled graph holds copies of the builder's tables, so
// mutating the builder afterwards does not affect it.
func (b *Builder) Compile() (*CompiledGraph, error) {
	var issues []string

	if !b.entrySet {
		issues = append(issues, "entry point not set")
	} else if _, ok := b.nodes[b.entry]; !ok {
		issues = append(issues, fmt.Sprintf("entry point %q is not a registered node", b.entry))
	}

	for _, from := range slices.Sorted(maps.Keys(b.conditional)) {
		if _, ok := b.nodes[from]; !ok {
			issues = append(issues, fmt.Sprintf("conditional edge source %q is not a registered node", from))
		}
		for i, r := range b.conditional[from] {
			if r == nil {
				issues = append(issues, fmt.Sprintf("conditional edge %d from %q has a nil router", i, from))
			}
		}
	}

	// Static edges were endpoint-checked at AddEdge time; re-verify so a
	// defective builder can't slip a dangling edge through.
	for _, from := range slices.Sorted(maps.Keys(b.static)) {
		if _, ok := b.nodes[from]; !ok {
			issues = append(issues, fmt.Sprintf("edge source %q is not a registered node", from))
		}
		if to := b.static[from]; to != "" {
			if _, ok := b.nodes[to]; !ok {
				issues = append(issues, fmt.Sprintf("edge target %q is not a registered node", to))
			}
		}
	}

	if b.entrySet && !b.reachesTerminal() {
		issues = append(issues, fmt.Sprintf("no path from entry point %q reaches an exit point or the end sentinel", b.entry))
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	g := &CompiledGraph{
		nodes:  maps.Clone(b.nodes),
		static: maps.Clone(b.static),
		conditional: func() map[string][]Router {
			out := make(map[string][]Router, len(b.conditional))
			for from, routers := range b.conditional {
				out[from] = slices.Clone(routers)
			}
			return out
		}(),
		entry:  b.entry,
		exits:  maps.Clone(b.exits),
		tracer: otel.Tracer(tracerName),
	}
	return g, nil
}

// reachesTerminal walks static edges from the entry point looking for a node
// the run can terminate at: a declared exit point, a node with conditional
// edges (which may route to End), or a node with no outgoing static edge
// (implicit exit). Conditional targets are runtime values, so only static
// edges contribute to reachability — a graph whose reachable set is a pure
// static cycle is rejected.
func (b *Builder) reachesTerminal() bool {
	seen := map[string]bool{}
	queue := []string{b.entry}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := b.exits[n]; ok {
			return true
		}
		if len(b.conditional[n]) > 0 {
			return true
		}
		to, ok := b.static[n]
		if !ok {
			return true
		}
		queue = append(queue, to)
	}
	return false
}

const tracerName = "github.com/ashita-ai/kairo"

// CompiledGraph is an immutable, executable graph definition. It holds no
// per-run state: any number of Invoke and Stream calls may run concurrently
// against one instance.
type CompiledGraph struct {
	nodes       map[string]Handler
	static      map[string]string
	conditional map[string][]Router
	entry       string
	exits       map[string]struct{}
	tracer      trace.Tracer
}

// EntryPoint reports the node execution starts from.
func (g *CompiledGraph) EntryPoint() string { return g.entry }

// Nodes returns the registered node names in sorted order.
func (g *CompiledGraph) Nodes() []string {
	return slices.Sorted(maps.Keys(g.nodes))
}
