package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store and ReviewStore.
//
// Designed for tests, examples, and embedding the workflow in a process that
// does not need durability. Thread-safe. Data is lost when the process exits.
//
// Snapshots are deep-copied on write and read so stored state never aliases
// the caller's maps or slices.
//
// Type parameter S is the state type to persist.
type MemStore[S any] struct {
	mu          sync.RWMutex
	checkpoints map[string][]Checkpoint[S] // runID -> checkpoints, ascending seq
	reviews     map[string]Review[S]       // reviewID -> review
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		checkpoints: make(map[string][]Checkpoint[S]),
		reviews:     make(map[string]Review[S]),
	}
}

// Save persists a checkpoint, overwriting any existing (run, seq) entry.
func (m *MemStore[S]) Save(_ context.Context, cp Checkpoint[S]) error {
	copied, err := cloneState(cp.State)
	if err != nil {
		return fmt.Errorf("memstore save: %w", err)
	}
	cp.State = copied

	m.mu.Lock()
	defer m.mu.Unlock()

	cps := m.checkpoints[cp.RunID]
	for i, existing := range cps {
		if existing.Seq == cp.Seq {
			cps[i] = cp
			return nil
		}
	}

	cps = append(cps, cp)
	sort.Slice(cps, func(i, j int) bool { return cps[i].Seq < cps[j].Seq })
	m.checkpoints[cp.RunID] = cps
	return nil
}

// LoadLatest returns the highest-seq checkpoint for a run.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps, ok := m.checkpoints[runID]
	if !ok || len(cps) == 0 {
		return Checkpoint[S]{}, ErrNotFound
	}

	latest := cps[len(cps)-1]
	copied, err := cloneState(latest.State)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("memstore load: %w", err)
	}
	latest.State = copied
	return latest, nil
}

// History returns all checkpoints for a run in ascending seq order.
func (m *MemStore[S]) History(_ context.Context, runID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps, ok := m.checkpoints[runID]
	if !ok || len(cps) == 0 {
		return nil, ErrNotFound
	}

	out := make([]Checkpoint[S], len(cps))
	copy(out, cps)
	return out, nil
}

// CreateReview persists a new review request.
func (m *MemStore[S]) CreateReview(_ context.Context, review Review[S]) error {
	copied, err := cloneState(review.State)
	if err != nil {
		return fmt.Errorf("memstore create review: %w", err)
	}
	review.State = copied

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reviews[review.ID]; exists {
		return fmt.Errorf("memstore create review: duplicate id %s", review.ID)
	}
	m.reviews[review.ID] = review
	return nil
}

// GetReview returns a review by ID.
func (m *MemStore[S]) GetReview(_ context.Context, id string) (Review[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	review, ok := m.reviews[id]
	if !ok {
		return Review[S]{}, ErrNotFound
	}
	return review, nil
}

// PendingReview returns the pending review for a run, if any.
func (m *MemStore[S]) PendingReview(_ context.Context, runID string) (Review[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, review := range m.reviews {
		if review.RunID == runID && review.Status == ReviewPending {
			return review, nil
		}
	}
	return Review[S]{}, ErrNotFound
}

// ExpiredReviews returns pending reviews past their timeout, oldest first.
func (m *MemStore[S]) ExpiredReviews(_ context.Context, asOf time.Time) ([]Review[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []Review[S]
	for _, review := range m.reviews {
		if review.Status == ReviewPending && !review.TimeoutAt.After(asOf) {
			expired = append(expired, review)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	return expired, nil
}

// ResolveReview atomically transitions a pending review to its final status.
func (m *MemStore[S]) ResolveReview(_ context.Context, id string, res Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	review, ok := m.reviews[id]
	if !ok {
		return ErrNotFound
	}
	if review.Status != ReviewPending {
		return ErrAlreadyResolved
	}

	review.Status = res.Status
	review.Feedback = res.Feedback
	review.Edits = res.Edits
	review.ResolvedAt = res.At
	m.reviews[id] = review
	return nil
}

// cloneState deep-copies state via a JSON round trip. The store cannot hand
// out references into its own maps, and callers cannot be trusted not to
// mutate what they passed in.
func cloneState[S any](state S) (S, error) {
	var copied S
	data, err := json.Marshal(state)
	if err != nil {
		return copied, err
	}
	if err := json.Unmarshal(data, &copied); err != nil {
		return copied, err
	}
	return copied, nil
}
