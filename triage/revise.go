package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// Reviser regenerates the merged analysis in response to critic feedback.
// It returns the replacement analysis; the workflow owns the revision count
// and loop bound.
type Reviser interface {
	Revise(ctx context.Context, state CaseState, feedback string) (string, error)
}

// TemplateReviser is the default deterministic reviser. It rebuilds an
// empty analysis from the specialist findings, restores a missing
// disclaimer, and resolves flagged conflicts by keeping the
// higher-confidence side and noting the discarded view.
type TemplateReviser struct{}

// Revise applies the deterministic rewrite.
func (TemplateReviser) Revise(ctx context.Context, state CaseState, feedback string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	analysis := state.FinalAnalysis
	if strings.TrimSpace(analysis) == "" {
		analysis, _ = Synthesize(state.SpecialistResults)
	}

	if strings.HasPrefix(feedback, feedbackArbitrate) && len(state.Conflicts) > 0 {
		analysis = arbitrate(analysis, state.SpecialistResults)
	}

	if !strings.Contains(analysis, Disclaimer) {
		analysis = strings.TrimRight(analysis, "\n") + "\n" + Disclaimer
	}
	return analysis, nil
}

// arbitrate resolves each detected conflict in favor of the side whose best
// holder has the higher confidence. The losing side's recommendation lines
// are dropped from the analysis and the discarded view is noted, so the
// reader still sees that a specialist disagreed and why the kept side won.
func arbitrate(analysis string, results map[string]SpecialistResult) string {
	ok := successfulResults(results)
	conflicts := findConflicts(ok)
	if len(conflicts) == 0 {
		return analysis
	}

	lines := strings.Split(analysis, "\n")
	var notes []string
	for _, c := range conflicts {
		aConf, aID := bestHolder(c.aHolders, results)
		bConf, bID := bestHolder(c.bHolders, results)

		keepMarker, keepID, keepConf := c.a, aID, aConf
		dropMarker, dropID, dropConf := c.b, bID, bConf
		if bConf > aConf {
			keepMarker, keepID, keepConf = c.b, bID, bConf
			dropMarker, dropID, dropConf = c.a, aID, aConf
		}

		kept := lines[:0:0]
		for _, line := range lines {
			if strings.HasPrefix(line, "- ") && strings.Contains(strings.ToLower(line), dropMarker) {
				continue
			}
			kept = append(kept, line)
		}
		lines = kept

		notes = append(notes, fmt.Sprintf(
			"Arbitrated: kept %q (%s, confidence %.2f); set aside %q (%s, confidence %.2f).",
			keepMarker, keepID, keepConf, dropMarker, dropID, dropConf))
	}

	return strings.Join(append(lines, notes...), "\n")
}

// bestHolder returns the highest confidence among the holders and the ID
// that carries it. Holders arrive ID-sorted, so a confidence tie resolves
// to the lexicographically first specialist.
func bestHolder(ids []string, results map[string]SpecialistResult) (float64, string) {
	best := -1.0
	bestID := ""
	for _, id := range ids {
		if r, ok := results[id]; ok && r.Confidence > best {
			best = r.Confidence
			bestID = id
		}
	}
	return best, bestID
}

// reviseNode applies one revision cycle. The revision count increments by
// exactly one whether or not the reviser changed anything; the count is the
// loop bound, not a measure of progress. An arbitration revision also
// clears the conflict flags it resolved.
func (w *Workflow) reviseNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	revised, err := w.reviser.Revise(ctx, s, s.Feedback)
	if err != nil {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeRevise,
			Code:    "REVISE_FAILED",
			Message: "revision failed",
			Cause:   err,
		}}
	}

	arbitrated := strings.HasPrefix(s.Feedback, feedbackArbitrate)

	s.FinalAnalysis = revised
	s.RevisionCount++
	s.NeedsRevision = false
	if arbitrated {
		s.Conflicts = nil
	}
	s.Status = StatusReviewing
	w.metrics.Revision()
	return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeCritic)}
}
