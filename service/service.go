// Package service exposes the triage workflow as a long-running process:
// an HTTP JSON API for intake, status, and human review resolution, plus a
// background sweeper that times out stale reviews.
//
// The service owns run concurrency. Every path that advances a run - the
// intake goroutine, a manual resume, a review resolution, the timeout
// sweep - first claims the run in an in-process table, so a single service
// instance never executes the same run twice at once. Cross-process
// exclusivity for review resolution comes from the store's compare-and-set.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/caseflow-go/flow"
	"github.com/dshills/caseflow-go/flow/store"
	"github.com/dshills/caseflow-go/triage"
)

// ErrRunBusy indicates the run is being processed right now and the caller
// should retry once the in-flight step completes.
var ErrRunBusy = errors.New("run is currently being processed")

// ErrRunActive indicates a resume was requested for a run that is neither
// failed nor suspended, so there is nothing to continue.
var ErrRunActive = errors.New("run is not awaiting a resume")

// Service drives triage runs on behalf of the HTTP API and the sweeper.
type Service struct {
	wf     *triage.Workflow
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]bool

	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// New wraps a workflow. A nil logger falls back to slog.Default().
func New(wf *triage.Workflow, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		wf:     wf,
		logger: logger,
		active: make(map[string]bool),
		runCtx: ctx,
		cancel: cancel,
	}
}

// Close cancels in-flight runs and waits for their goroutines to drain.
// Cancelled runs stop at their latest checkpoint and resume on restart.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// acquire claims a run for processing. It returns false if the run is
// already claimed.
func (s *Service) acquire(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[runID] {
		return false
	}
	s.active[runID] = true
	return true
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}

// launch claims the run and processes it on a background goroutine. It
// returns ErrRunBusy without spawning anything if the run is claimed.
func (s *Service) launch(runID string) error {
	if !s.acquire(runID) {
		return fmt.Errorf("%w: %s", ErrRunBusy, runID)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(runID)
		s.processRun(runID)
	}()
	return nil
}

// StartCase validates the input, durably creates the run, and returns its
// id. Processing happens asynchronously; poll GetStatus for progress. A
// validation failure creates no run.
func (s *Service) StartCase(ctx context.Context, input triage.CaseInput) (string, error) {
	runID := triage.NewRunID()
	if _, err := s.wf.Start(ctx, runID, input); err != nil {
		return "", err
	}
	if err := s.launch(runID); err != nil {
		// The intake checkpoint is durable; the run id cannot be claimed
		// yet, so this only happens during shutdown races. The caller
		// still gets the id and can resume later.
		s.logger.WarnContext(ctx, "case accepted but not launched",
			"run_id", runID, "error", err)
	}
	return runID, nil
}

// ResumeRun continues a failed or suspended run in the background.
func (s *Service) ResumeRun(ctx context.Context, runID string) error {
	state, err := s.wf.State(ctx, runID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() && state.Status != triage.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrRunActive, runID, state.Status)
	}
	if review, err := s.wf.PendingReview(ctx, runID); err == nil {
		return fmt.Errorf("%w: review %s", triage.ErrReviewPending, review.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resume %s: %w", runID, err)
	}
	return s.launch(runID)
}

// processRun advances a run until it completes, fails, or suspends. It is
// the only place the service calls the engine loop, so its error handling
// is the single source of truth for what each outcome means.
func (s *Service) processRun(runID string) {
	state, err := s.wf.Resume(s.runCtx, runID)
	switch {
	case err == nil:
		if state.Status == triage.StatusAwaitingHuman {
			s.logger.Info("run suspended for human review",
				"run_id", runID, "review_id", state.ReviewID)
			return
		}
		s.logger.Info("run finished",
			"run_id", runID, "status", string(state.Status))
	case errors.Is(err, flow.ErrRunFinished):
		// Raced with another path that finished the run. Nothing to do.
	case errors.Is(err, triage.ErrReviewPending):
		s.logger.Info("run awaiting human review", "run_id", runID)
	case errors.Is(err, context.Canceled):
		s.logger.Info("run interrupted by shutdown, checkpoint remains resumable",
			"run_id", runID)
	default:
		s.logger.Warn("run failed",
			"run_id", runID, "status", string(state.Status), "error", err)
	}
}

// Summary is the externally visible view of a run. It is always
// well-formed: a failed run carries a one-line error summary, a suspended
// run carries its pending review id, and a finished run carries the final
// analysis and explanation.
type Summary struct {
	RunID           string    `json:"run_id"`
	Status          string    `json:"status"`
	Category        string    `json:"category,omitempty"`
	CurrentStep     string    `json:"current_step,omitempty"`
	RevisionCount   int       `json:"revision_count"`
	Unverified      bool      `json:"unverified,omitempty"`
	Conflicts       []string  `json:"conflicts,omitempty"`
	FinalAnalysis   string    `json:"final_analysis,omitempty"`
	Explanation     string    `json:"explanation,omitempty"`
	ReviewOutcome   string    `json:"review_outcome,omitempty"`
	PendingReviewID string    `json:"pending_review_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// History is the per-step journal: which node ran, when, and what it
	// did or why it failed.
	History []triage.HistoryEntry `json:"history,omitempty"`
}

// GetStatus returns the run's current summary from its latest checkpoint.
func (s *Service) GetStatus(ctx context.Context, runID string) (Summary, error) {
	state, err := s.wf.State(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(state), nil
}

// Summarize projects a case state onto its external summary.
func Summarize(state triage.CaseState) Summary {
	sum := Summary{
		RunID:         state.RunID,
		Status:        string(state.Status),
		Category:      string(state.Category),
		CurrentStep:   state.CurrentStep,
		RevisionCount: state.RevisionCount,
		Unverified:    state.Unverified,
		Conflicts:     state.Conflicts,
		ReviewOutcome: state.ReviewOutcome,
		Error:         state.Error,
		CreatedAt:     state.CreatedAt,
		UpdatedAt:     state.UpdatedAt,
		History:       state.History,
	}
	if state.Status == triage.StatusAwaitingHuman {
		sum.PendingReviewID = state.ReviewID
	}
	if state.Status == triage.StatusCompleted {
		sum.FinalAnalysis = state.FinalAnalysis
		sum.Explanation = state.Explanation
	}
	return sum
}

// GetReview returns a review request by id.
func (s *Service) GetReview(ctx context.Context, reviewID string) (store.Review[triage.CaseState], error) {
	return s.wf.GetReview(ctx, reviewID)
}

// ResolveHumanReview applies a reviewer's decision and synchronously
// resumes the suspended run, returning its post-resume summary. The store's
// compare-and-set guarantees exactly one resolution wins; losers get
// store.ErrAlreadyResolved.
func (s *Service) ResolveHumanReview(ctx context.Context, reviewID string, decision triage.ReviewDecision, feedback string, edits map[string]string) (Summary, error) {
	review, err := s.wf.GetReview(ctx, reviewID)
	if err != nil {
		return Summary{}, err
	}
	if !s.acquire(review.RunID) {
		return Summary{}, fmt.Errorf("%w: %s", ErrRunBusy, review.RunID)
	}
	defer s.release(review.RunID)

	state, err := s.wf.ResolveReview(ctx, reviewID, decision, feedback, edits)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(state), nil
}

// SweepExpired times out pending reviews whose deadline has passed and
// resumes their runs. It returns how many reviews it resolved. Races with
// concurrent resolutions are expected and skipped silently.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.wf.ExpiredReviews(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	resolved := 0
	for _, review := range expired {
		if !s.acquire(review.RunID) {
			continue
		}
		state, err := s.wf.ExpireReview(ctx, review)
		s.release(review.RunID)
		switch {
		case err == nil:
			resolved++
			s.logger.InfoContext(ctx, "review timed out, run resumed",
				"review_id", review.ID, "run_id", review.RunID,
				"status", string(state.Status))
		case errors.Is(err, store.ErrAlreadyResolved):
			// Lost the resolution race; the winner resumed the run.
		default:
			s.logger.WarnContext(ctx, "review timeout sweep failed",
				"review_id", review.ID, "run_id", review.RunID, "error", err)
		}
	}
	return resolved, nil
}
