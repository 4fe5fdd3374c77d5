// Package store provides durable persistence for workflow checkpoints and
// human review requests.
//
// Four backends ship with the engine: MemStore for tests and embedding,
// SQLiteStore for single-node deployments, and MySQLStore/PostgresStore for
// shared databases. All backends implement both Store and ReviewStore.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID or review ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyResolved is returned when resolving a review that is no longer
// pending. The resolve operation is compare-and-set on pending status, which
// is what guarantees a timed-out review triggers exactly one resume even when
// a human resolution races the timeout sweep.
var ErrAlreadyResolved = errors.New("review already resolved")

// Checkpoint is one durable snapshot of a run. A checkpoint is written after
// every state-mutating step; LoadLatest always returns the highest-seq
// snapshot for a run.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type Checkpoint[S any] struct {
	// RunID identifies the run this snapshot belongs to.
	RunID string `json:"run_id"`

	// Seq is the strictly increasing sequence number within the run.
	// Seq 0 is the intake checkpoint written when the run is created.
	Seq int `json:"seq"`

	// Node is the node that produced this snapshot ("" for intake).
	Node string `json:"node"`

	// Next is the routed target to execute on resume. Empty when the run
	// is Done or Suspended. Persisting the routing decision with the
	// snapshot means a crash between checkpoint and next node cannot
	// change the path a resumed run takes.
	Next string `json:"next"`

	// Done marks a terminal snapshot.
	Done bool `json:"done"`

	// Suspended marks a durable suspension (human review gate). Resume
	// re-evaluates the suspended node's outgoing edges.
	Suspended bool `json:"suspended"`

	// State is the full state snapshot.
	State S `json:"state"`

	// Digest is the hex sha256 of the state JSON, for audit and debugging.
	Digest string `json:"digest"`

	// At is the write timestamp.
	At time.Time `json:"at"`
}

// Store persists run checkpoints.
//
// Exactly one orchestrator owns a given run ID at a time; concurrent writers
// to the same run are disallowed by convention. Same-(run,seq) writes must be
// idempotent overwrites.
type Store[S any] interface {
	// Save persists a checkpoint. Implementations upsert on (run_id, seq).
	Save(ctx context.Context, cp Checkpoint[S]) error

	// LoadLatest returns the highest-seq checkpoint for a run.
	// Returns ErrNotFound if the run has no checkpoints.
	LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error)

	// History returns all checkpoints for a run in ascending seq order.
	History(ctx context.Context, runID string) ([]Checkpoint[S], error)
}

// ReviewStatus is the lifecycle state of a human review request.
type ReviewStatus string

// Review lifecycle states.
const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewModified ReviewStatus = "modified"
	ReviewTimedOut ReviewStatus = "timed_out"
)

// Review is a human review request created by the workflow's review gate and
// resolved by an external call or the timeout sweep.
//
// Type parameter S is the presented state snapshot type.
type Review[S any] struct {
	// ID is the request identifier.
	ID string `json:"id"`

	// RunID is the suspended run awaiting this review.
	RunID string `json:"run_id"`

	// Node is the gate node that created the request.
	Node string `json:"node"`

	// State is the state snapshot presented to the reviewer.
	State S `json:"state"`

	// Status is pending until resolved.
	Status ReviewStatus `json:"status"`

	// Feedback is the reviewer's note, set at resolution.
	Feedback string `json:"feedback,omitempty"`

	// Edits holds the reviewer's field edits for a "modified" resolution.
	// The workflow decides which fields are editable; the store just keeps
	// them with the request so the resumed run can apply them.
	Edits map[string]string `json:"edits,omitempty"`

	// CreatedAt is the request creation time.
	CreatedAt time.Time `json:"created_at"`

	// TimeoutAt is when the sweep may auto-resolve the request.
	TimeoutAt time.Time `json:"timeout_at"`

	// ResolvedAt is zero until the request is resolved.
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Resolution finalizes a pending review.
type Resolution struct {
	// Status is the final review status (approved, modified, timed_out).
	Status ReviewStatus

	// Feedback is the reviewer's note.
	Feedback string

	// Edits are the reviewer's field edits; only meaningful for modified.
	Edits map[string]string

	// At is the resolution timestamp.
	At time.Time
}

// ReviewStore persists human review requests.
type ReviewStore[S any] interface {
	// CreateReview persists a new pending review request.
	CreateReview(ctx context.Context, review Review[S]) error

	// GetReview returns a review by ID. Returns ErrNotFound if absent.
	GetReview(ctx context.Context, id string) (Review[S], error)

	// PendingReview returns the pending review for a run, if any.
	// Returns ErrNotFound when the run has no pending review.
	PendingReview(ctx context.Context, runID string) (Review[S], error)

	// ExpiredReviews returns pending reviews whose timeout_at is at or
	// before asOf, in created_at order.
	ExpiredReviews(ctx context.Context, asOf time.Time) ([]Review[S], error)

	// ResolveReview transitions a pending review to its final status,
	// recording feedback, edits, and the resolution time. Returns
	// ErrAlreadyResolved if the review is not pending, ErrNotFound if it
	// does not exist. The pending check and the update are atomic.
	ResolveReview(ctx context.Context, id string, res Resolution) error
}

// Digest computes the hex sha256 of the state's JSON encoding. Engines stamp
// it on every checkpoint so operators can spot snapshot divergence without
// diffing full state blobs.
func Digest[S any](state S) string {
	data, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
