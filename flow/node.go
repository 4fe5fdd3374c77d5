package flow

import "context"

// Node is one processing unit in a workflow graph.
// It receives state of type S, performs its work, and returns a NodeResult
// describing the state delta and where execution goes next.
//
// Nodes must treat the state they receive as read-only: all changes flow
// through Result.Delta and the engine's reducer. A node that needs the
// previous value copies the state, modifies the copy, and returns it.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) Result[S]
}

// Result is the output of a node execution.
type Result[S any] struct {
	// Delta is the state update produced by this node. It is merged with
	// the current state by the engine's reducer before checkpointing.
	Delta S

	// Route decides the next step. Leave zero to fall back to the edges
	// registered for this node.
	Route Next

	// Err halts the run. The engine records it in the journal, persists a
	// final failed checkpoint, and returns it from Run/Resume. The engine
	// never retries a failed node.
	Err error
}

// Next is the routing decision after a node completes. Exactly one of the
// three outcomes applies:
//
//   - Terminal: the run is finished.
//   - Suspend: the run parks durably (checkpoint written, no goroutine held)
//     until an external Resume.
//   - To: execution continues at the named node.
//
// A zero Next defers to edge predicates.
type Next struct {
	// To names the next node to execute.
	To string

	// Suspend parks the run after the checkpoint is written. Resume
	// continues from this node's outgoing edges.
	Suspend bool

	// Terminal stops the run.
	Terminal bool
}

// Stop returns a Next that terminates the run.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// Await returns a Next that durably suspends the run.
func Await() Next {
	return Next{Suspend: true}
}

// zero reports whether no routing decision was made.
func (n Next) zero() bool {
	return n.To == "" && !n.Suspend && !n.Terminal
}

// NodeFunc adapts a plain function to the Node interface.
//
// Example:
//
//	classify := NodeFunc[CaseState](func(ctx context.Context, s CaseState) Result[CaseState] {
//	    s.Category = "criminal"
//	    return Result[CaseState]{Delta: s, Route: Goto("dispatch")}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) Result[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) Result[S] {
	return f(ctx, state)
}

// NodeError is a structured error raised by or on behalf of a node.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
