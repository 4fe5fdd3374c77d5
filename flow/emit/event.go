// Package emit provides pluggable observability for workflow execution.
//
// The engine emits one Event per lifecycle transition (run started, node
// completed, run suspended, ...). Emitters route those events to a backend:
// structured logs, OpenTelemetry spans, or an in-memory buffer for tests.
package emit

// Standard event messages emitted by the engine. Emitters and tests match
// on these rather than free-form strings.
const (
	MsgRunStart    = "run_start"
	MsgRunResume   = "run_resume"
	MsgRunComplete = "run_complete"
	MsgRunSuspend  = "run_suspend"
	MsgRunFail     = "run_fail"
	MsgNodeDone    = "node_complete"
	MsgNodeError   = "node_error"
)

// Event is one observability record from a workflow run.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Seq is the checkpoint sequence the event belongs to. Zero for
	// run-level events that precede the first step.
	Seq int

	// Node is the node involved, empty for run-level events.
	Node string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries event-specific details. Common keys: "duration_ms",
	// "error", "next", "digest".
	Meta map[string]any
}
