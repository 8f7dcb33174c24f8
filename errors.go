package kairo

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateNode is returned by Builder.AddNode when the name exists.
	ErrDuplicateNode = errors.New("kairo: duplicate node")

	// ErrUnknownNode is returned by builder methods referencing an
	// unregistered node.
	ErrUnknownNode = errors.New("kairo: unknown node")

	// ErrNodeNotFound means execution routed to a node with no handler.
	ErrNodeNotFound = errors.New("kairo: node not found")

	// ErrMaxSteps means the step budget was exhausted before termination.
	ErrMaxSteps = errors.New("kairo: max steps exceeded")

	// ErrTimeout means the wall-clock budget was exhausted between steps.
	ErrTimeout = errors.New("kairo: timeout exceeded")

	// ErrCheckpointNotFound is returned when resuming from an id the
	// checkpoint store has never seen.
	ErrCheckpointNotFound = errors.New("kairo: checkpoint not found")

	// ErrInvalidOptions is returned by Invoke and Stream when an execution
	// option carries an out-of-range value.
	ErrInvalidOptions = errors.New("kairo: invalid options")
)

// ValidationError reports every structural defect Compile found, not just
// the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("kairo: invalid graph: %s", strings.Join(e.Issues, "; "))
}

// NodeError wraps a handler failure with the node that raised it.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("kairo: node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
