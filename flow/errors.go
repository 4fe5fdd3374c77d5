package flow

import "errors"

// ErrMaxStepsExceeded indicates that a run reached the configured step limit
// without completing. The revision loop is bounded by the domain, so hitting
// this limit means a routing bug rather than a long case.
var ErrMaxStepsExceeded = errors.New("run exceeded maximum steps limit")

// ErrNoRoute indicates that a node produced no explicit route and no edge
// predicate matched the current state.
var ErrNoRoute = errors.New("no route from node")

// ErrRunFinished indicates a Resume on a run whose latest checkpoint is
// terminal. Callers treat this as a no-op; the final state is still returned.
var ErrRunFinished = errors.New("run already finished")

// ErrInvalidPolicy indicates a node policy with a negative timeout.
var ErrInvalidPolicy = errors.New("invalid node policy")

// Error codes carried by EngineError and NodeError.
const (
	CodeMissingReducer  = "MISSING_REDUCER"
	CodeMissingStore    = "MISSING_STORE"
	CodeNoStartNode     = "NO_START_NODE"
	CodeDuplicateNode   = "DUPLICATE_NODE"
	CodeNodeNotFound    = "NODE_NOT_FOUND"
	CodeMaxSteps        = "MAX_STEPS_EXCEEDED"
	CodeNoRoute         = "NO_ROUTE"
	CodeCheckpointWrite = "CHECKPOINT_WRITE"
	CodeNodeTimeout     = "NODE_TIMEOUT"
	CodeNodePanic       = "NODE_PANIC"
)

// EngineError is an error from engine construction or the run loop itself,
// as opposed to an error returned by a node.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}
