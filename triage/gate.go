package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/caseflow-go/flow"
	"github.com/dshills/caseflow-go/flow/store"
	"github.com/dshills/caseflow-go/notify"
)

// EditableFields are the state fields a modified review resolution may set.
// Everything else (classification, specialist findings, the audit trail)
// is the system's record of what happened and stays immutable.
var EditableFields = map[string]bool{
	"final_analysis":    true,
	"explanation":       true,
	"reviewer_feedback": true,
}

// validateEdits rejects edits outside the whitelist.
func validateEdits(edits map[string]string) error {
	for field := range edits {
		if !EditableFields[field] {
			return fmt.Errorf("%w: %s", ErrInvalidEdit, field)
		}
	}
	return nil
}

// applyEdits folds whitelisted reviewer edits into the state. Unknown
// fields are dropped here as a second line of defense; the API surface has
// already rejected them.
func applyEdits(s *CaseState, edits map[string]string) {
	for field, value := range edits {
		switch field {
		case "final_analysis":
			s.FinalAnalysis = value
		case "explanation":
			s.Explanation = value
		case "reviewer_feedback":
			s.ReviewerFeedback = value
		}
	}
}

// awaitReviewNode creates a durable review request and parks the run. The
// checkpoint written after this node is suspended: no goroutine waits, and
// the run continues only when ResolveReview or the timeout sweep resumes
// it.
//
// The review snapshot is a deep copy so reviewer tooling can render it
// while later steps mutate the live state.
func (w *Workflow) awaitReviewNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	if w.reviews == nil {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeAwaitReview,
			Code:    "REVIEW_STORE_REQUIRED",
			Message: "review gate reached without a review store",
		}}
	}

	// Gate re-entry after a failed suspend checkpoint picks the pending
	// review back up instead of minting a sibling; the original deadline
	// keeps ticking.
	existing, err := w.reviews.PendingReview(ctx, s.RunID)
	switch {
	case err == nil:
		s.ReviewID = existing.ID
		s.Status = StatusAwaitingHuman
		return flow.Result[CaseState]{Delta: s, Route: flow.Await()}
	case !errors.Is(err, store.ErrNotFound):
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeAwaitReview,
			Code:    "REVIEW_LOOKUP",
			Message: "look up pending review for " + s.RunID,
			Cause:   err,
		}}
	}

	snapshot, err := flow.Clone(s)
	if err != nil {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeAwaitReview,
			Code:    "REVIEW_SNAPSHOT",
			Message: "snapshot state for review",
			Cause:   err,
		}}
	}

	now := time.Now().UTC()
	review := store.Review[CaseState]{
		ID:        uuid.NewString(),
		RunID:     s.RunID,
		Node:      nodeAwaitReview,
		State:     snapshot,
		Status:    store.ReviewPending,
		CreatedAt: now,
		TimeoutAt: now.Add(w.reviewTimeout),
	}
	if err := w.reviews.CreateReview(ctx, review); err != nil {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeAwaitReview,
			Code:    "REVIEW_CREATE",
			Message: "create review request",
			Cause:   err,
		}}
	}
	w.metrics.Review("opened")

	// Best-effort: a failed notification leaves the review pending and
	// discoverable via the API and the timeout sweep.
	if err := w.notifier.Notify(ctx, notify.Review{
		ID:        review.ID,
		RunID:     review.RunID,
		Category:  string(s.Category),
		Summary:   truncate(s.FinalAnalysis, 200),
		TimeoutAt: review.TimeoutAt,
	}); err != nil {
		w.logger.WarnContext(ctx, "review notification failed",
			"review_id", review.ID, "run_id", review.RunID, "error", err)
	}

	s.ReviewID = review.ID
	s.Status = StatusAwaitingHuman
	return flow.Result[CaseState]{Delta: s, Route: flow.Await()}
}

// resolveReviewNode folds a resolved review into the run. It executes when
// a parked run resumes; a still-pending review fails the step, which is the
// backstop behind Workflow.Resume's pending-review guard.
func (w *Workflow) resolveReviewNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	if s.ReviewID == "" {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeResolveReview,
			Code:    "NO_REVIEW",
			Message: "no review recorded for this run",
		}}
	}

	review, err := w.reviews.GetReview(ctx, s.ReviewID)
	if err != nil {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeResolveReview,
			Code:    "REVIEW_LOAD",
			Message: "load review " + s.ReviewID,
			Cause:   err,
		}}
	}

	switch review.Status {
	case store.ReviewPending:
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeResolveReview,
			Code:    "REVIEW_PENDING",
			Message: "review " + review.ID + " is still pending",
		}}
	case store.ReviewApproved:
		s.ReviewerFeedback = review.Feedback
	case store.ReviewModified:
		s.ReviewerFeedback = review.Feedback
		applyEdits(&s, review.Edits)
	case store.ReviewTimedOut:
		// The automated result proceeds unchanged; the journal records the
		// timeout in history.
	}

	s.ReviewOutcome = string(review.Status)
	s.Status = StatusCompleted
	return flow.Result[CaseState]{Delta: s, Route: flow.Stop()}
}

// truncate shortens s to max runes for notification summaries.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
