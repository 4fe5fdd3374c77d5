package triage

import (
	"context"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// Verdict is the critic's decision on a merged analysis.
type Verdict struct {
	// NeedsRevision requests another revision cycle.
	NeedsRevision bool

	// Feedback explains the verdict and, for a revision, tells the reviser
	// what to fix.
	Feedback string
}

// Critic evaluates a merged analysis before it ships. A critic inspects the
// state read-only; whether its verdict triggers a revision is the
// workflow's call, bounded by the revision budget.
type Critic interface {
	Review(ctx context.Context, state CaseState) (Verdict, error)
}

// RuleCritic is the default deterministic critic. It checks that the
// analysis exists, carries the required disclaimer, and notes any
// unresolved conflicts in its feedback. It never errors, so runs using it
// are unaffected by the critic failure policy.
type RuleCritic struct{}

// Review applies the completeness checks.
func (RuleCritic) Review(ctx context.Context, state CaseState) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	if strings.TrimSpace(state.FinalAnalysis) == "" {
		return Verdict{
			NeedsRevision: true,
			Feedback:      "final analysis is empty; rebuild it from the specialist findings",
		}, nil
	}
	if !strings.Contains(state.FinalAnalysis, Disclaimer) {
		return Verdict{
			NeedsRevision: true,
			Feedback:      "required disclaimer is missing",
		}, nil
	}
	if len(state.Conflicts) > 0 {
		return Verdict{
			Feedback: "accepted with conflicting recommendations surfaced: " + strings.Join(state.Conflicts, "; "),
		}, nil
	}
	return Verdict{Feedback: "analysis accepted"}, nil
}

// feedbackArbitrate prefixes the critic's demand to resolve conflicting
// recommendations by confidence; the reviser keys its arbitration on it.
const feedbackArbitrate = "resolve conflicting recommendations"

// arbitrationFeedback builds the revision instruction for the arbitrate
// conflict policy.
func arbitrationFeedback(conflicts []string) string {
	return feedbackArbitrate + " by keeping the higher-confidence side and noting the discarded view: " +
		strings.Join(conflicts, "; ")
}

// routeAfterCritic decides the critic's outgoing edge. Revision runs only
// while the budget allows; an exhausted budget always proceeds to explain,
// so a critic that keeps rejecting can delay an answer at most
// max_revisions times, never indefinitely.
func routeAfterCritic(s CaseState) flow.Next {
	if s.NeedsRevision && s.RevisionCount < s.MaxRevisions {
		return flow.Goto(nodeRevise)
	}
	return flow.Goto(nodeExplain)
}

// criticNode runs the critic and routes its verdict. Under the arbitrate
// conflict policy an accepted analysis with live conflicts is sent back for
// one arbitration revision. A critic error either fails the step or, when
// the workflow is configured fail-open, ships the output flagged
// unverified.
func (w *Workflow) criticNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	verdict, err := w.critic.Review(ctx, s)
	if err != nil {
		if !w.criticFailOpen {
			return flow.Result[CaseState]{Err: &flow.NodeError{
				NodeID:  nodeCritic,
				Code:    "CRITIC_UNAVAILABLE",
				Message: "critic unavailable",
				Cause:   err,
			}}
		}
		s.NeedsRevision = false
		s.Unverified = true
		s.Feedback = "critic unavailable, proceeding unverified: " + err.Error()
		s.Status = StatusReviewing
		return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeExplain)}
	}

	s.NeedsRevision = verdict.NeedsRevision
	s.Feedback = verdict.Feedback

	if w.conflictPolicy == ConflictArbitrate && len(s.Conflicts) > 0 && !s.NeedsRevision {
		s.NeedsRevision = true
		s.Feedback = arbitrationFeedback(s.Conflicts)
	}

	next := routeAfterCritic(s)
	if next.To == nodeRevise {
		s.Status = StatusRevising
	} else {
		s.Status = StatusReviewing
		if s.NeedsRevision {
			// Budget exhausted: the output still ships, flagged as not
			// having passed critique.
			s.Unverified = true
		}
	}
	return flow.Result[CaseState]{Delta: s, Route: next}
}
