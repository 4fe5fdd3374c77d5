// Package flow provides a generic checkpointed workflow engine.
//
// An Engine executes a directed graph of nodes over a shared state type S.
// After every node it merges the node's delta through a reducer, folds an
// execution record into the state through a journal hook, computes the
// routing decision, and persists a durable checkpoint before moving on.
// A run can therefore be resumed from its latest checkpoint after a crash,
// and can suspend durably (no goroutine held) until an external Resume.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/caseflow-go/flow/emit"
	"github.com/dshills/caseflow-go/flow/store"
)

// Reducer merges a node's state delta into the previous state.
//
// Reducers must be deterministic and must treat a zero-value delta as a
// no-op: the engine merges the delta of a failing node too, so partial
// progress (for example per-task errors from a fan-out) is retained in the
// failure checkpoint.
type Reducer[S any] func(prev, delta S) S

// Record describes one node execution, passed to the Journal hook.
type Record struct {
	// Node is the executed node's ID.
	Node string

	// At is when the node finished, UTC.
	At time.Time

	// Latency is how long the node ran.
	Latency time.Duration

	// Err is the node's failure. Nil on success.
	Err error
}

// Journal folds an execution record into state. The engine calls it once
// per node execution, after the reducer merges the node's delta and before
// the checkpoint is written; the state it returns is what gets persisted.
//
// Domains use the hook to append audit history and maintain status fields:
// on Record.Err they typically mark the state failed and record a
// human-readable error summary.
type Journal[S any] func(state S, rec Record) S

// Engine executes a workflow graph with durable checkpointing.
//
// The Engine:
//   - Manages graph topology (nodes and edges)
//   - Executes nodes under per-node timeout policies with panic recovery
//   - Merges state deltas via the reducer and journals every execution
//   - Persists a checkpoint after every state-mutating step
//   - Emits observability events and Prometheus metrics
//   - Supports durable suspension and resume from the latest checkpoint
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	engine := New(reducer, store.NewMemStore[CaseState](), emit.NewLogEmitter(nil), Options{MaxSteps: 50})
//	engine.Journal(journalFn)
//	engine.Add("classify", classifyNode)
//	engine.StartAt("classify")
//
//	final, err := engine.Run(ctx, "run-001", CaseState{CaseText: "..."})
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically
	reducer Reducer[S]

	// journal folds execution records into state before checkpointing
	journal Journal[S]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S]

	// edges defines conditional transitions between nodes
	edges []Edge[S]

	// startNode is the entry point for workflow execution
	startNode string

	// store persists checkpoints
	store store.Store[S]

	// emitter receives observability events
	emitter emit.Emitter

	// opts contains execution configuration
	opts Options
}

// New creates an Engine with the given configuration.
//
// The constructor does not validate its arguments; validation happens when
// Run, Start, or Resume is called, so graphs can be assembled flexibly.
// emitter may be nil (events are dropped).
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		edges:   make([]Edge[S], 0),
		store:   st,
		emitter: emitter,
		opts:    opts,
	}
}

// Journal registers the journal hook invoked after every node execution.
func (e *Engine[S]) Journal(fn Journal[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = fn
}

// Add registers a node in the workflow graph. Node IDs must be unique.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    CodeDuplicateNode,
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for workflow execution. The node must have
// been registered via Add.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    CodeNodeNotFound,
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes. A nil predicate makes the edge
// unconditional. Explicit routing via Result.Route takes precedence over
// edges; edges are also what a suspended node's Resume re-evaluates.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from the start node until it completes, fails,
// or suspends. A sequence-0 intake checkpoint is written before the first
// node runs, so the run is durable from the moment Run returns control to
// the first node.
//
// Returns the final (or suspended) state. A node failure returns the node's
// error along with the state as of the failure checkpoint. Context
// cancellation aborts the loop without marking the run failed; the latest
// checkpoint remains resumable.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	if err := e.Start(ctx, runID, initial); err != nil {
		return initial, err
	}
	return e.loop(ctx, runID, initial, e.startNode, 1)
}

// Start validates the engine, writes the sequence-0 intake checkpoint, and
// returns without executing any node. Processing continues via Resume,
// which is how a caller accepts work synchronously and processes it
// asynchronously.
func (e *Engine[S]) Start(ctx context.Context, runID string, initial S) error {
	if err := e.prepare(runID); err != nil {
		return err
	}

	e.opts.Metrics.RunStarted()

	intake := store.Checkpoint[S]{
		RunID:  runID,
		Seq:    0,
		Next:   e.startNode,
		State:  initial,
		Digest: store.Digest(initial),
		At:     time.Now().UTC(),
	}
	if err := e.save(ctx, intake); err != nil {
		return err
	}

	e.emit(emit.Event{
		RunID: runID,
		Msg:   emit.MsgRunStart,
		Meta:  map[string]any{"next": e.startNode},
	})
	return nil
}

// Resume continues a run from its latest checkpoint.
//
// A terminal checkpoint returns the final state with ErrRunFinished. A
// suspended checkpoint re-evaluates the suspended node's outgoing edges to
// find the next node. Any other checkpoint continues at the routed target
// persisted with it, so a crash between checkpoint and next node cannot
// change the path the run takes.
func (e *Engine[S]) Resume(ctx context.Context, runID string) (S, error) {
	var zero S
	if err := e.prepare(runID); err != nil {
		return zero, err
	}

	cp, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return zero, fmt.Errorf("resume %s: %w", runID, err)
	}

	if cp.Done {
		return cp.State, ErrRunFinished
	}

	next := cp.Next
	if cp.Suspended {
		next = e.evaluateEdges(cp.Node, cp.State)
	}
	if next == "" {
		return cp.State, fmt.Errorf("resume %s: %w %s", runID, ErrNoRoute, cp.Node)
	}

	e.emit(emit.Event{
		RunID: runID,
		Seq:   cp.Seq,
		Node:  cp.Node,
		Msg:   emit.MsgRunResume,
		Meta:  map[string]any{"next": next},
	})

	return e.loop(ctx, runID, cp.State, next, cp.Seq+1)
}

// loop is the engine's execution loop: run node, reduce, journal, route,
// checkpoint, emit, repeat.
func (e *Engine[S]) loop(ctx context.Context, runID string, state S, nodeID string, seq int) (S, error) {
	for steps := 1; ; steps++ {
		if e.opts.MaxSteps > 0 && steps > e.opts.MaxSteps {
			return state, fmt.Errorf("run %s: %w", runID, ErrMaxStepsExceeded)
		}

		select {
		case <-ctx.Done():
			// Crash-resume path: the latest checkpoint stays resumable,
			// the run is not marked failed.
			return state, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[nodeID]
		e.mu.RUnlock()

		if !exists {
			return state, &EngineError{
				Message: "node not found during execution: " + nodeID,
				Code:    CodeNodeNotFound,
			}
		}

		started := time.Now()
		result, nodeErr := runNode(ctx, nodeImpl, nodeID, state, e.opts.policyFor(nodeID), e.opts.NodeTimeout)
		latency := time.Since(started)
		if nodeErr == nil {
			nodeErr = result.Err
		}

		// The delta is merged even on failure so partial progress is
		// retained in the failure checkpoint.
		state = e.reducer(state, result.Delta)
		state = e.record(state, Record{Node: nodeID, At: time.Now().UTC(), Latency: latency, Err: nodeErr})

		if nodeErr != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			return e.fail(ctx, runID, seq, nodeID, state, latency, nodeErr)
		}
		e.opts.Metrics.ObserveNode(nodeID, latency, "success")

		next, done, suspended, routeErr := e.route(nodeID, result.Route, state)
		if routeErr != nil {
			state = e.record(state, Record{Node: nodeID, At: time.Now().UTC(), Err: routeErr})
			return e.fail(ctx, runID, seq, nodeID, state, latency, routeErr)
		}

		cp := store.Checkpoint[S]{
			RunID:     runID,
			Seq:       seq,
			Node:      nodeID,
			Next:      next,
			Done:      done,
			Suspended: suspended,
			State:     state,
			Digest:    store.Digest(state),
			At:        time.Now().UTC(),
		}
		if err := e.save(ctx, cp); err != nil {
			return state, err
		}

		e.emit(emit.Event{
			RunID: runID,
			Seq:   seq,
			Node:  nodeID,
			Msg:   emit.MsgNodeDone,
			Meta:  map[string]any{"duration_ms": latency.Milliseconds(), "next": next},
		})

		if done {
			e.emit(emit.Event{RunID: runID, Seq: seq, Node: nodeID, Msg: emit.MsgRunComplete})
			e.opts.Metrics.RunFinished("completed")
			return state, nil
		}
		if suspended {
			e.emit(emit.Event{RunID: runID, Seq: seq, Node: nodeID, Msg: emit.MsgRunSuspend})
			e.opts.Metrics.RunFinished("suspended")
			return state, nil
		}

		nodeID = next
		seq++
	}
}

// fail persists the failure checkpoint and halts the run.
//
// The failure checkpoint is not terminal: Next points back at the failed
// node, so the caller may retry it via Resume. The engine itself never
// retries.
func (e *Engine[S]) fail(ctx context.Context, runID string, seq int, nodeID string, state S, latency time.Duration, cause error) (S, error) {
	e.opts.Metrics.ObserveNode(nodeID, latency, nodeStatus(cause))

	cp := store.Checkpoint[S]{
		RunID:  runID,
		Seq:    seq,
		Node:   nodeID,
		Next:   nodeID,
		State:  state,
		Digest: store.Digest(state),
		At:     time.Now().UTC(),
	}
	if err := e.save(ctx, cp); err != nil {
		// The checkpoint write failure is what the caller must see: the
		// run's durable record no longer reflects what happened.
		return state, err
	}

	e.emit(emit.Event{
		RunID: runID,
		Seq:   seq,
		Node:  nodeID,
		Msg:   emit.MsgNodeError,
		Meta:  map[string]any{"error": cause.Error()},
	})
	e.emit(emit.Event{RunID: runID, Seq: seq, Msg: emit.MsgRunFail})
	e.opts.Metrics.RunFinished("failed")

	return state, cause
}

// route resolves a node's routing decision into loop control values.
func (e *Engine[S]) route(nodeID string, decision Next, state S) (next string, done, suspended bool, err error) {
	switch {
	case decision.Terminal:
		return "", true, false, nil
	case decision.Suspend:
		return "", false, true, nil
	case decision.To != "":
		return decision.To, false, false, nil
	}

	if to := e.evaluateEdges(nodeID, state); to != "" {
		return to, false, false, nil
	}
	return "", false, false, fmt.Errorf("%w %s", ErrNoRoute, nodeID)
}

// evaluateEdges finds the first matching edge from the given node. An edge
// with a nil predicate always matches; first match wins.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// record applies the journal hook when one is registered.
func (e *Engine[S]) record(state S, rec Record) S {
	e.mu.RLock()
	journal := e.journal
	e.mu.RUnlock()

	if journal == nil {
		return state
	}
	return journal(state, rec)
}

// save persists a checkpoint. A write failure is fatal to the current step:
// the engine never proceeds on non-durable state.
func (e *Engine[S]) save(ctx context.Context, cp store.Checkpoint[S]) error {
	err := e.store.Save(ctx, cp)
	e.opts.Metrics.CheckpointWrite(err == nil)
	if err != nil {
		return &EngineError{
			Message: fmt.Sprintf("checkpoint write failed for run %s seq %d: %v", cp.RunID, cp.Seq, err),
			Code:    CodeCheckpointWrite,
			Cause:   err,
		}
	}
	return nil
}

// prepare validates the engine configuration before execution.
func (e *Engine[S]) prepare(runID string) error {
	if runID == "" {
		return &EngineError{Message: "run ID cannot be empty"}
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: CodeMissingReducer}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: CodeMissingStore}
	}
	if err := e.opts.Validate(); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{
			Message: "start node not set (call StartAt first)",
			Code:    CodeNoStartNode,
		}
	}
	if _, exists := e.nodes[e.startNode]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + e.startNode,
			Code:    CodeNodeNotFound,
		}
	}
	return nil
}

// emit sends an event when an emitter is configured.
func (e *Engine[S]) emit(event emit.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

// nodeStatus maps a node error to a metrics label.
func nodeStatus(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Code == CodeNodeTimeout {
		return "timeout"
	}
	return "error"
}
