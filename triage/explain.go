package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// ReviewMode controls when a run enters the human review gate.
type ReviewMode string

// Review gate modes.
const (
	// ReviewAuto gates only when the conflict policy escalates.
	ReviewAuto ReviewMode = "auto"
	// ReviewAlways gates every run.
	ReviewAlways ReviewMode = "always"
	// ReviewNever completes without gating, even on escalation.
	ReviewNever ReviewMode = "never"
)

// ConflictPolicy selects what happens when parallel specialists disagree.
type ConflictPolicy string

// Conflict policies.
const (
	// ConflictSurface keeps both views and lists the conflicts in the
	// output. The default.
	ConflictSurface ConflictPolicy = "surface"
	// ConflictEscalate forces the human review gate when conflicts remain.
	ConflictEscalate ConflictPolicy = "escalate"
	// ConflictArbitrate spends one revision keeping the higher-confidence
	// side and noting the discarded view.
	ConflictArbitrate ConflictPolicy = "arbitrate"
)

// routeAfterExplain decides whether the run completes or parks at the human
// review gate.
func routeAfterExplain(s CaseState, mode ReviewMode, policy ConflictPolicy) flow.Next {
	switch {
	case mode == ReviewNever:
		return flow.Stop()
	case mode == ReviewAlways:
		return flow.Goto(nodeAwaitReview)
	case policy == ConflictEscalate && len(s.Conflicts) > 0:
		return flow.Goto(nodeAwaitReview)
	default:
		return flow.Stop()
	}
}

// buildExplanation renders the user-facing result: category, the merged
// analysis, any conflicting recommendations left standing, and flags the
// reader must see (unverified output, revision count).
func buildExplanation(s CaseState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case category: %s\n\n", s.Category)
	b.WriteString(s.FinalAnalysis)

	if len(s.Conflicts) > 0 {
		b.WriteString("\n\nConflicting recommendations to weigh:\n")
		for _, c := range s.Conflicts {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	if s.Unverified {
		b.WriteString("\nThis result did not complete automated review and is delivered unverified.")
	}
	if s.RevisionCount > 0 {
		fmt.Fprintf(&b, "\nRevisions applied: %d.", s.RevisionCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

// explainNode produces the final explanation. It owns the completion
// decision: a run that goes to the gate keeps its status and completes in
// resolve_review instead.
func (w *Workflow) explainNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	if err := ctx.Err(); err != nil {
		return flow.Result[CaseState]{Err: err}
	}

	s.Explanation = buildExplanation(s)

	next := routeAfterExplain(s, w.reviewMode, w.conflictPolicy)
	if next.Terminal {
		s.Status = StatusCompleted
	} else {
		s.Status = StatusReviewing
	}
	return flow.Result[CaseState]{Delta: s, Route: next}
}
