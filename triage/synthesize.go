package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// Disclaimer is the line every synthesized analysis carries. The critic
// rejects output without it.
const Disclaimer = "This triage assessment is informational and is not legal advice."

// conflictMarkers are pairs of mutually exclusive recommendation phrases.
// Two specialists splitting a pair is a conflict: it is flagged for the
// critic, listed in the final output, and depending on the conflict policy
// may escalate to human review or trigger an arbitration revision.
// Markers are matched lowercase; neither phrase of a pair may contain the
// other.
var conflictMarkers = [][2]string{
	{"accept the settlement", "reject the settlement"},
	{"vacate the unit", "remain in the unit"},
	{"file immediately", "delay filing"},
	{"contact the opposing party", "avoid contacting the opposing party"},
	{"plead guilty", "plead not guilty"},
}

// Synthesize merges non-error specialist results into a single analysis.
//
// The merge is deterministic for a given result set regardless of arrival
// order: results are sorted by specialist ID before anything else, insights
// are then ordered by descending confidence (stable, so ties keep ID
// order), and duplicate insight lines are dropped, first occurrence wins.
// Detected conflicts come back as preformatted flags.
func Synthesize(results map[string]SpecialistResult) (string, []string) {
	ok := successfulResults(results)
	if len(ok) == 0 {
		return "", nil
	}

	conflicts := detectConflicts(ok)

	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Confidence > ok[j].Confidence })

	var b strings.Builder
	seen := make(map[string]struct{})
	for _, r := range ok {
		for _, line := range insightLines(r) {
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString(Disclaimer)

	return b.String(), conflicts
}

// successfulResults filters to results with content and no error, sorted by
// specialist ID.
func successfulResults(results map[string]SpecialistResult) []SpecialistResult {
	ok := make([]SpecialistResult, 0, len(results))
	for _, r := range results {
		if r.Error == "" && strings.TrimSpace(r.Content) != "" {
			ok = append(ok, r)
		}
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].SpecialistID < ok[j].SpecialistID })
	return ok
}

// insightLines renders one result as mergeable lines: a headline carrying
// the specialist attribution and confidence, then one line per
// recommendation. Recommendation lines are bare so the same advice from two
// specialists deduplicates.
func insightLines(r SpecialistResult) []string {
	lines := make([]string, 0, 1+len(r.Recommendations))
	lines = append(lines, fmt.Sprintf("[%s, confidence %.2f] %s", r.SpecialistID, r.Confidence, r.Content))
	for _, rec := range r.Recommendations {
		lines = append(lines, "- "+rec)
	}
	return lines
}

// conflictPair is one detected conflict: the marker phrases and, per side,
// the ID-sorted specialists holding each.
type conflictPair struct {
	a, b     string
	aHolders []string
	bHolders []string
}

// findConflicts scans ID-sorted results for marker pairs split across
// specialists. A result holding both phrases of a pair is internally
// inconsistent rather than in conflict with a sibling and counts for
// neither side.
func findConflicts(sorted []SpecialistResult) []conflictPair {
	var out []conflictPair
	for _, pair := range conflictMarkers {
		var aHolders, bHolders []string
		for _, r := range sorted {
			a := holdsMarker(r, pair[0])
			b := holdsMarker(r, pair[1])
			switch {
			case a && !b:
				aHolders = append(aHolders, r.SpecialistID)
			case b && !a:
				bHolders = append(bHolders, r.SpecialistID)
			}
		}
		if len(aHolders) > 0 && len(bHolders) > 0 {
			out = append(out, conflictPair{a: pair[0], b: pair[1], aHolders: aHolders, bHolders: bHolders})
		}
	}
	return out
}

// holdsMarker reports whether the result's content or any recommendation
// contains the marker phrase.
func holdsMarker(r SpecialistResult, marker string) bool {
	if strings.Contains(strings.ToLower(r.Content), marker) {
		return true
	}
	for _, rec := range r.Recommendations {
		if strings.Contains(strings.ToLower(rec), marker) {
			return true
		}
	}
	return false
}

// detectConflicts formats found conflicts as human-readable flags.
func detectConflicts(sorted []SpecialistResult) []string {
	pairs := findConflicts(sorted)
	if len(pairs) == 0 {
		return nil
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, fmt.Sprintf("%s recommends %q; %s recommends %q",
			strings.Join(p.aHolders, ","), p.a,
			strings.Join(p.bHolders, ","), p.b))
	}
	return out
}

// synthesizeNode merges specialist findings into the draft analysis and
// hands it to the critic.
func (w *Workflow) synthesizeNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	merged, conflicts := Synthesize(s.SpecialistResults)
	if merged == "" {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeSynthesize,
			Code:    "NOTHING_TO_SYNTHESIZE",
			Message: "no successful specialist results to merge",
		}}
	}

	s.FinalAnalysis = merged
	s.Conflicts = conflicts
	s.Status = StatusReviewing
	return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeCritic)}
}
