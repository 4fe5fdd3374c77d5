package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// Routes maps a category to the specialist IDs consulted for it. Compound
// categories list every specialist of their parts, which is what turns a
// housing_family case into a parallel fan-out.
type Routes map[Category][]string

// DefaultRoutes returns the routing table for the default specialist pool.
func DefaultRoutes() Routes {
	return Routes{
		CategoryCriminal:      {"criminal_law"},
		CategoryHousing:       {"housing_law"},
		CategoryFamily:        {"family_law"},
		CategoryEmployment:    {"employment_law"},
		CategoryImmigration:   {"immigration_law"},
		CategoryConsumer:      {"consumer_law"},
		CategoryHousingFamily: {"housing_law", "family_law"},
		CategoryGeneral:       {"general_practice"},
	}
}

// SpecialistsFor returns a copy of the specialists routed for a category.
// Unknown or unrouted categories fall back to the general entry so an
// unexpected classifier output degrades to general advice instead of
// failing the run.
func (r Routes) SpecialistsFor(category Category) []string {
	ids, ok := r[category]
	if !ok || len(ids) == 0 {
		ids = r[CategoryGeneral]
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// dispatchNode resolves the category to its specialist set. A routed
// specialist without a registered analyzer is a wiring error and fails the
// run before any consult starts.
func (w *Workflow) dispatchNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	ids := w.routes.SpecialistsFor(s.Category)
	if len(ids) == 0 {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeDispatch,
			Code:    "NO_SPECIALISTS",
			Message: fmt.Sprintf("no specialists routed for category %q", s.Category),
		}}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := w.analyzers[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeDispatch,
			Code:    "UNKNOWN_SPECIALIST",
			Message: "no analyzer registered for: " + strings.Join(missing, ", "),
		}}
	}

	s.AssignedSpecialists = ids
	s.Status = StatusAnalyzing
	return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeAnalyze)}
}
