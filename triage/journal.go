package triage

import (
	"fmt"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// journal is the engine hook that folds each execution record into the case
// audit trail. It appends one history entry per step, advances current_step
// and updated_at, and on a node error marks the case failed with a
// human-readable summary, never a stack trace.
func journal(state CaseState, rec flow.Record) CaseState {
	entry := HistoryEntry{Node: rec.Node, At: rec.At}
	if rec.Err != nil {
		entry.Summary = "step failed"
		entry.Error = rec.Err.Error()
		state.Status = StatusFailed
		state.Error = rec.Err.Error()
	} else {
		entry.Summary = summarize(rec.Node, state)
		// A successful step clears the error of any earlier failed attempt.
		state.Error = ""
	}

	state.History = append(state.History, entry)
	state.CurrentStep = rec.Node
	if !rec.At.IsZero() {
		state.UpdatedAt = rec.At
	}
	return state
}

// summarize produces the per-step audit line from the post-merge state.
func summarize(node string, s CaseState) string {
	switch node {
	case nodeNormalize:
		return fmt.Sprintf("case text normalized (%d chars)", len(s.CaseText))
	case nodeClassify:
		return "classified as " + string(s.Category)
	case nodeDispatch:
		return "dispatched to " + strings.Join(s.AssignedSpecialists, ", ")
	case nodeAnalyze:
		ok, timeouts, failures := tallyResults(s.SpecialistResults)
		summary := fmt.Sprintf("%d/%d specialists succeeded", ok, len(s.SpecialistResults))
		if timeouts > 0 {
			summary += fmt.Sprintf(", %d timed out", timeouts)
		}
		if failures > 0 {
			summary += fmt.Sprintf(", %d failed", failures)
		}
		return summary
	case nodeSynthesize:
		ok, _, _ := tallyResults(s.SpecialistResults)
		return fmt.Sprintf("synthesized %d findings (%d conflicts)", ok, len(s.Conflicts))
	case nodeCritic:
		if s.NeedsRevision {
			return "revision requested: " + s.Feedback
		}
		if s.Feedback != "" {
			return s.Feedback
		}
		return "analysis accepted"
	case nodeRevise:
		return fmt.Sprintf("revision %d of %d applied", s.RevisionCount, s.MaxRevisions)
	case nodeExplain:
		return "explanation prepared"
	case nodeAwaitReview:
		return "human review requested (" + s.ReviewID + ")"
	case nodeResolveReview:
		switch s.ReviewOutcome {
		case "timed_out":
			return "human review timed out, proceeding with automated result"
		case "modified":
			return "human review modified the result"
		default:
			return "human review approved the result"
		}
	default:
		return ""
	}
}

// tallyResults counts specialist outcomes.
func tallyResults(results map[string]SpecialistResult) (ok, timeouts, failures int) {
	for _, r := range results {
		switch {
		case r.Error == "":
			ok++
		case strings.HasPrefix(r.Error, "timeout:"):
			timeouts++
		default:
			failures++
		}
	}
	return ok, timeouts, failures
}
