package flow

// Edge is a possible transition between two nodes in the workflow graph.
//
// Edges are evaluated in registration order when a node returns no explicit
// Route; the first matching edge wins. An edge with a nil predicate is
// unconditional and therefore terminates evaluation, so register conditional
// edges before the unconditional fallback.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When guards traversal. Nil means the edge always matches.
	When Predicate[S]
}

// Predicate evaluates state to decide whether an edge is taken.
//
// Predicates must be pure: deterministic and side-effect free. Routing is
// re-evaluated when a run resumes from a checkpoint, so an impure predicate
// could send a resumed run down a different path than the original execution.
//
// Type parameter S is the state type to evaluate.
type Predicate[S any] func(state S) bool
