package triage

// Reduce merges a node's delta into the previous case state.
//
// Nodes return their full modified copy of the state, so the delta wins
// field for field. The reducer guards the fields a node must never move
// backwards: run identity, creation time, history length, and the status
// transition set. Specialist results merge per key so a retried analyze
// step cannot silently drop a sibling's finding.
//
// A zero delta (a failed node that produced no partial progress) is a
// no-op; every real delta carries the run ID it was handed.
func Reduce(prev, delta CaseState) CaseState {
	if delta.RunID == "" {
		return prev
	}

	next := delta
	if prev.RunID != "" {
		next.RunID = prev.RunID
	}
	if !prev.CreatedAt.IsZero() {
		next.CreatedAt = prev.CreatedAt
	}
	if len(prev.History) > len(next.History) {
		next.History = prev.History
	}
	next.SpecialistResults = mergeResults(prev.SpecialistResults, delta.SpecialistResults)

	if next.Status == "" {
		next.Status = prev.Status
	} else if !prev.Status.CanTransition(next.Status) {
		next.Status = prev.Status
	}

	return next
}

// mergeResults merges specialist results per key, delta winning on
// collision.
func mergeResults(prev, delta map[string]SpecialistResult) map[string]SpecialistResult {
	if len(delta) == 0 {
		return prev
	}
	if len(prev) == 0 {
		return delta
	}
	merged := make(map[string]SpecialistResult, len(prev)+len(delta))
	for id, r := range prev {
		merged[id] = r
	}
	for id, r := range delta {
		merged[id] = r
	}
	return merged
}
