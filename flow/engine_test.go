package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/caseflow-go/flow/store"
)

type testState struct {
	Value string   `json:"value"`
	Count int      `json:"count"`
	Trail []string `json:"trail,omitempty"`
}

func testReducer(prev, delta testState) testState {
	if delta.Value != "" {
		prev.Value = delta.Value
	}
	prev.Count += delta.Count
	if len(delta.Trail) > len(prev.Trail) {
		prev.Trail = delta.Trail
	}
	return prev
}

// step returns a node that stamps its id into Value and routes to next
// ("" means Stop).
func step(id, next string) NodeFunc[testState] {
	return func(_ context.Context, s testState) Result[testState] {
		route := Stop()
		if next != "" {
			route = Goto(next)
		}
		return Result[testState]{
			Delta: testState{Value: id, Count: 1},
			Route: route,
		}
	}
}

func newTestEngine(t *testing.T, st store.Store[testState], opts Options) *Engine[testState] {
	t.Helper()
	if st == nil {
		st = store.NewMemStore[testState]()
	}
	return New(testReducer, st, nil, opts)
}

func mustAdd(t *testing.T, e *Engine[testState], id string, n Node[testState]) {
	t.Helper()
	if err := e.Add(id, n); err != nil {
		t.Fatalf("Add(%s): %v", id, err)
	}
}

func TestEngineRun(t *testing.T) {
	t.Run("executes a linear graph to completion", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{MaxSteps: 10})
		mustAdd(t, e, "a", step("a", "b"))
		mustAdd(t, e, "b", step("b", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		final, err := e.Run(context.Background(), "run-1", testState{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if final.Value != "b" {
			t.Errorf("expected final value b, got %q", final.Value)
		}
		if final.Count != 2 {
			t.Errorf("expected 2 node executions, got %d", final.Count)
		}

		history, err := st.History(context.Background(), "run-1")
		if err != nil {
			t.Fatal(err)
		}
		// Intake plus one checkpoint per node.
		if len(history) != 3 {
			t.Fatalf("expected 3 checkpoints, got %d", len(history))
		}
		if history[0].Seq != 0 || history[0].Next != "a" {
			t.Errorf("intake checkpoint wrong: seq=%d next=%q", history[0].Seq, history[0].Next)
		}
		if !history[2].Done {
			t.Error("final checkpoint not marked done")
		}
		if history[2].Digest == "" {
			t.Error("checkpoint digest not set")
		}
	})

	t.Run("node failure persists a retryable checkpoint", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{MaxSteps: 10})
		mustAdd(t, e, "a", step("a", "boom"))
		mustAdd(t, e, "boom", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			return Result[testState]{
				Delta: testState{Value: "partial"},
				Err:   errors.New("downstream unavailable"),
			}
		}))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-2", testState{})
		if err == nil {
			t.Fatal("expected run error")
		}

		cp, loadErr := st.LoadLatest(context.Background(), "run-2")
		if loadErr != nil {
			t.Fatal(loadErr)
		}
		if cp.Done {
			t.Error("failure checkpoint must not be terminal")
		}
		if cp.Next != "boom" {
			t.Errorf("failure checkpoint should point back at the failed node, got %q", cp.Next)
		}
		if cp.State.Value != "partial" {
			t.Errorf("failing node's delta was not retained, got %q", cp.State.Value)
		}
	})

	t.Run("no route fails the run", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{})
		mustAdd(t, e, "a", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			return Result[testState]{Delta: testState{Value: "a"}}
		}))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-3", testState{})
		if !errors.Is(err, ErrNoRoute) {
			t.Fatalf("expected ErrNoRoute, got %v", err)
		}
	})

	t.Run("max steps guards against routing loops", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{MaxSteps: 3})
		mustAdd(t, e, "spin", step("spin", "spin"))
		if err := e.StartAt("spin"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-4", testState{})
		if !errors.Is(err, ErrMaxStepsExceeded) {
			t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
		}
	})

	t.Run("cancellation leaves the run resumable", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{MaxSteps: 10})

		ctx, cancel := context.WithCancel(context.Background())
		mustAdd(t, e, "a", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			cancel() // simulated shutdown mid-run
			return Result[testState]{Delta: testState{Value: "a", Count: 1}, Route: Goto("b")}
		}))
		mustAdd(t, e, "b", step("b", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(ctx, "run-5", testState{})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}

		cp, loadErr := st.LoadLatest(context.Background(), "run-5")
		if loadErr != nil {
			t.Fatal(loadErr)
		}
		if cp.Done || cp.Next != "b" {
			t.Fatalf("expected resumable checkpoint at b, got done=%v next=%q", cp.Done, cp.Next)
		}

		final, err := e.Resume(context.Background(), "run-5")
		if err != nil {
			t.Fatalf("Resume after cancellation: %v", err)
		}
		if final.Value != "b" || final.Count != 2 {
			t.Errorf("resumed run did not complete: %+v", final)
		}
	})
}

func TestEngineResume(t *testing.T) {
	t.Run("retries the failed node", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{MaxSteps: 10})

		calls := 0
		mustAdd(t, e, "flaky", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			calls++
			if calls == 1 {
				return Result[testState]{Err: errors.New("transient")}
			}
			return Result[testState]{Delta: testState{Value: "ok", Count: 1}, Route: Stop()}
		}))
		if err := e.StartAt("flaky"); err != nil {
			t.Fatal(err)
		}

		if _, err := e.Run(context.Background(), "run-6", testState{}); err == nil {
			t.Fatal("expected first attempt to fail")
		}

		final, err := e.Resume(context.Background(), "run-6")
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if final.Value != "ok" {
			t.Errorf("expected retried node to succeed, got %+v", final)
		}
		if calls != 2 {
			t.Errorf("expected 2 executions, got %d", calls)
		}
	})

	t.Run("finished run returns ErrRunFinished with final state", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{})
		mustAdd(t, e, "a", step("a", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Run(context.Background(), "run-7", testState{}); err != nil {
			t.Fatal(err)
		}

		final, err := e.Resume(context.Background(), "run-7")
		if !errors.Is(err, ErrRunFinished) {
			t.Fatalf("expected ErrRunFinished, got %v", err)
		}
		if final.Value != "a" {
			t.Errorf("final state not returned alongside ErrRunFinished: %+v", final)
		}
	})

	t.Run("unknown run returns ErrNotFound", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{})
		mustAdd(t, e, "a", step("a", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Resume(context.Background(), "no-such-run")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected store.ErrNotFound, got %v", err)
		}
	})
}

func TestEngineSuspend(t *testing.T) {
	newGated := func(t *testing.T, st store.Store[testState]) *Engine[testState] {
		e := newTestEngine(t, st, Options{MaxSteps: 10})
		mustAdd(t, e, "gate", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			return Result[testState]{Delta: testState{Value: "gated", Count: 1}, Route: Await()}
		}))
		mustAdd(t, e, "after", step("after", ""))
		if err := e.StartAt("gate"); err != nil {
			t.Fatal(err)
		}
		return e
	}

	t.Run("suspend parks the run durably", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newGated(t, st)
		if err := e.Connect("gate", "after", nil); err != nil {
			t.Fatal(err)
		}

		state, err := e.Run(context.Background(), "run-8", testState{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if state.Value != "gated" {
			t.Errorf("suspended state not returned: %+v", state)
		}

		cp, loadErr := st.LoadLatest(context.Background(), "run-8")
		if loadErr != nil {
			t.Fatal(loadErr)
		}
		if !cp.Suspended || cp.Done {
			t.Fatalf("expected suspended checkpoint, got suspended=%v done=%v", cp.Suspended, cp.Done)
		}
	})

	t.Run("resume re-evaluates the suspended node's edges", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newGated(t, st)
		if err := e.Connect("gate", "after", nil); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Run(context.Background(), "run-9", testState{}); err != nil {
			t.Fatal(err)
		}

		final, err := e.Resume(context.Background(), "run-9")
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if final.Value != "after" {
			t.Errorf("expected resume to continue past the gate, got %+v", final)
		}
	})

	t.Run("suspended node with no matching edge cannot resume", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newGated(t, st)
		if _, err := e.Run(context.Background(), "run-10", testState{}); err != nil {
			t.Fatal(err)
		}

		_, err := e.Resume(context.Background(), "run-10")
		if !errors.Is(err, ErrNoRoute) {
			t.Fatalf("expected ErrNoRoute, got %v", err)
		}
	})
}

func TestEngineJournal(t *testing.T) {
	t.Run("journal sees every execution including failures", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{MaxSteps: 10})
		e.Journal(func(s testState, rec Record) testState {
			entry := rec.Node
			if rec.Err != nil {
				entry += ":failed"
			}
			s.Trail = append(s.Trail, entry)
			return s
		})
		mustAdd(t, e, "a", step("a", "boom"))
		mustAdd(t, e, "boom", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			return Result[testState]{Err: errors.New("nope")}
		}))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		if _, err := e.Run(context.Background(), "run-11", testState{}); err == nil {
			t.Fatal("expected run error")
		}

		cp, err := st.LoadLatest(context.Background(), "run-11")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"a", "boom:failed"}
		if len(cp.State.Trail) != len(want) {
			t.Fatalf("expected trail %v, got %v", want, cp.State.Trail)
		}
		for i := range want {
			if cp.State.Trail[i] != want[i] {
				t.Errorf("trail[%d] = %q, want %q", i, cp.State.Trail[i], want[i])
			}
		}
	})
}

func TestEngineValidation(t *testing.T) {
	t.Run("missing reducer", func(t *testing.T) {
		e := New[testState](nil, store.NewMemStore[testState](), nil, Options{})
		mustAdd(t, e, "a", step("a", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}
		_, err := e.Run(context.Background(), "run", testState{})
		assertEngineCode(t, err, CodeMissingReducer)
	})

	t.Run("missing store", func(t *testing.T) {
		e := New(testReducer, nil, nil, Options{})
		mustAdd(t, e, "a", step("a", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}
		_, err := e.Run(context.Background(), "run", testState{})
		assertEngineCode(t, err, CodeMissingStore)
	})

	t.Run("missing start node", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{})
		mustAdd(t, e, "a", step("a", ""))
		_, err := e.Run(context.Background(), "run", testState{})
		assertEngineCode(t, err, CodeNoStartNode)
	})

	t.Run("empty run ID", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{})
		mustAdd(t, e, "a", step("a", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Run(context.Background(), "", testState{}); err == nil {
			t.Fatal("expected error for empty run ID")
		}
	})

	t.Run("duplicate node ID", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{})
		mustAdd(t, e, "a", step("a", ""))
		err := e.Add("a", step("a", ""))
		assertEngineCode(t, err, CodeDuplicateNode)
	})

	t.Run("StartAt unknown node", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{})
		err := e.StartAt("ghost")
		assertEngineCode(t, err, CodeNodeNotFound)
	})

	t.Run("negative policy timeout", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{
			Policies: map[string]Policy{"a": {Timeout: -time.Second}},
		})
		mustAdd(t, e, "a", step("a", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}
		_, err := e.Run(context.Background(), "run", testState{})
		assertEngineCode(t, err, CodeNodeTimeout)
	})
}

func assertEngineCode(t *testing.T, err error, code string) {
	t.Helper()
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if engErr.Code != code {
		t.Errorf("expected code %s, got %s", code, engErr.Code)
	}
}

// flakyStore fails Save at one sequence number and delegates otherwise.
type flakyStore struct {
	inner   store.Store[testState]
	failSeq int
}

func (f *flakyStore) Save(ctx context.Context, cp store.Checkpoint[testState]) error {
	if cp.Seq == f.failSeq {
		return errors.New("disk full")
	}
	return f.inner.Save(ctx, cp)
}

func (f *flakyStore) LoadLatest(ctx context.Context, runID string) (store.Checkpoint[testState], error) {
	return f.inner.LoadLatest(ctx, runID)
}

func (f *flakyStore) History(ctx context.Context, runID string) ([]store.Checkpoint[testState], error) {
	return f.inner.History(ctx, runID)
}

func TestEngineCheckpointWriteFailure(t *testing.T) {
	t.Run("write failure is fatal to the step", func(t *testing.T) {
		st := &flakyStore{inner: store.NewMemStore[testState](), failSeq: 1}
		e := newTestEngine(t, st, Options{MaxSteps: 10})
		mustAdd(t, e, "a", step("a", "b"))
		mustAdd(t, e, "b", step("b", ""))
		if err := e.StartAt("a"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-12", testState{})
		assertEngineCode(t, err, CodeCheckpointWrite)

		// Only the intake checkpoint made it to disk.
		history, histErr := st.History(context.Background(), "run-12")
		if histErr != nil {
			t.Fatal(histErr)
		}
		if len(history) != 1 || history[0].Seq != 0 {
			t.Errorf("expected only the intake checkpoint, got %d checkpoints", len(history))
		}
	})
}

func TestNodeTimeout(t *testing.T) {
	t.Run("per-node policy bounds execution", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{
			MaxSteps: 5,
			Policies: map[string]Policy{"slow": {Timeout: 20 * time.Millisecond}},
		})
		mustAdd(t, e, "slow", NodeFunc[testState](func(ctx context.Context, s testState) Result[testState] {
			select {
			case <-ctx.Done():
				return Result[testState]{}
			case <-time.After(time.Second):
				return Result[testState]{Delta: testState{Value: "late"}, Route: Stop()}
			}
		}))
		if err := e.StartAt("slow"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-13", testState{})
		assertNodeCode(t, err, CodeNodeTimeout)
	})

	t.Run("node ignoring its context still times out", func(t *testing.T) {
		e := newTestEngine(t, nil, Options{MaxSteps: 5, NodeTimeout: 10 * time.Millisecond})
		mustAdd(t, e, "stubborn", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			time.Sleep(50 * time.Millisecond)
			return Result[testState]{Delta: testState{Value: "done"}, Route: Stop()}
		}))
		if err := e.StartAt("stubborn"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-14", testState{})
		assertNodeCode(t, err, CodeNodeTimeout)
	})
}

func TestNodePanic(t *testing.T) {
	t.Run("panic becomes a node error", func(t *testing.T) {
		st := store.NewMemStore[testState]()
		e := newTestEngine(t, st, Options{MaxSteps: 5})
		mustAdd(t, e, "boom", NodeFunc[testState](func(_ context.Context, s testState) Result[testState] {
			panic("nil map write")
		}))
		if err := e.StartAt("boom"); err != nil {
			t.Fatal(err)
		}

		_, err := e.Run(context.Background(), "run-15", testState{})
		assertNodeCode(t, err, CodeNodePanic)
		if !strings.Contains(err.Error(), "nil map write") {
			t.Errorf("panic message lost: %v", err)
		}

		// The run is parked at the panicking node, not torn down.
		cp, loadErr := st.LoadLatest(context.Background(), "run-15")
		if loadErr != nil {
			t.Fatal(loadErr)
		}
		if cp.Done || cp.Next != "boom" {
			t.Errorf("expected retryable checkpoint at boom, got done=%v next=%q", cp.Done, cp.Next)
		}
	})
}

func assertNodeCode(t *testing.T, err error, code string) {
	t.Helper()
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("expected NodeError, got %v", err)
	}
	if nodeErr.Code != code {
		t.Errorf("expected code %s, got %s", code, nodeErr.Code)
	}
}
