package kairo

import (
	"maps"
	"slices"
	"time"
)

// Message is one entry in the state's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the payload threaded through node executions. Handlers receive it
// by value and return a replacement; the engine stamps CurrentNode and Step
// after each handler returns, so those two fields are engine-owned.
//
// Values is an open extension map for workflow-specific fields. Entries must
// be JSON-serializable when checkpointing is enabled — the persistent stores
// marshal the whole State with encoding/json and callers must pre-serialize
// anything richer.
type State struct {
	Messages    []Message      `json:"messages"`
	Values      map[string]any `json:"values"`
	CurrentNode string         `json:"current_node"`
	Step        int            `json:"step"`
}

// NewState returns an empty state with an initialized Values map.
func NewState() State {
	return State{Values: map[string]any{}}
}

// Clone returns a copy with its own Messages slice and Values map.
// Map values are copied shallowly.
func (s State) Clone() State {
	out := s
	out.Messages = slices.Clone(s.Messages)
	out.Values = maps.Clone(s.Values)
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	return out
}

// AppendMessage returns a copy of the state with one message appended.
// History is append-only by convention; handlers that rewrite it violate
// that convention knowingly.
func (s State) AppendMessage(role, content string) State {
	out := s.Clone()
	out.Messages = append(out.Messages, Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return out
}

// EventType categorizes an execution event.
type EventType string

const (
	EventNodeStarted    EventType = "NodeStarted"
	EventNodeCompleted  EventType = "NodeCompleted"
	EventNodeFailed     EventType = "NodeFailed"
	EventEdgeTraversed  EventType = "EdgeTraversed"
	EventGraphCompleted EventType = "GraphCompleted"
	EventGraphFailed    EventType = "GraphFailed"
)

// Event is one observable unit of graph execution. Events are emitted in
// strict execution order: NodeStarted, then NodeCompleted or NodeFailed,
// then EdgeTraversed, repeating until a terminal GraphCompleted (successful
// runs only — cancelled streams end without one).
type Event struct {
	Type     EventType     `json:"type"`
	Node     string        `json:"node"`
	State    State         `json:"state"`
	Step     int           `json:"step"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}
