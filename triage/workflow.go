// Package triage implements the legal-aid case triage workflow: intake
// normalization, rule-based classification, parallel specialist analysis,
// deterministic synthesis, a bounded critic/revision loop, a user-facing
// explanation, and an optional durable human review gate.
//
// The package supplies the domain nodes, state, reducer, and journal for a
// flow.Engine. Every step is checkpointed, so a run survives process
// restarts and can park at the review gate for hours or days without
// holding a goroutine.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/caseflow-go/flow"
	"github.com/dshills/caseflow-go/flow/emit"
	"github.com/dshills/caseflow-go/flow/store"
	"github.com/dshills/caseflow-go/notify"
	"github.com/dshills/caseflow-go/specialist"
)

// Workflow node IDs.
const (
	nodeNormalize     = "normalize"
	nodeClassify      = "classify"
	nodeDispatch      = "dispatch"
	nodeAnalyze       = "analyze"
	nodeSynthesize    = "synthesize"
	nodeCritic        = "critic"
	nodeRevise        = "revise"
	nodeExplain       = "explain"
	nodeAwaitReview   = "await_review"
	nodeResolveReview = "resolve_review"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxRevisions      = 2
	DefaultSpecialistTimeout = 30 * time.Second
	DefaultReviewTimeout     = 24 * time.Hour
	DefaultMaxSteps          = 50

	// MaxCaseTextBytes caps intake size.
	MaxCaseTextBytes = 64 * 1024
)

// Intake and review operation errors.
var (
	// ErrEmptyCase rejects intake with no usable case text.
	ErrEmptyCase = errors.New("case text is empty")

	// ErrCaseTooLong rejects intake over MaxCaseTextBytes.
	ErrCaseTooLong = errors.New("case text exceeds maximum length")

	// ErrReviewPending blocks Resume while a human review is unresolved.
	ErrReviewPending = errors.New("human review still pending")

	// ErrRunNotParked rejects resolving a review whose run is not
	// suspended at the review gate.
	ErrRunNotParked = errors.New("run is not awaiting review")

	// ErrInvalidOutcome rejects an unknown review resolution outcome.
	ErrInvalidOutcome = errors.New("invalid review outcome")

	// ErrInvalidEdit rejects a modified resolution touching a field outside
	// EditableFields.
	ErrInvalidEdit = errors.New("edit not permitted")

	// ErrNegativeRevisions rejects a negative per-run revision override.
	ErrNegativeRevisions = errors.New("max revisions cannot be negative")
)

// CaseInput is the intake for a new run.
type CaseInput struct {
	// CaseText is the raw intake text. Required.
	CaseText string

	// Metadata carries intake context (channel, locale, client notes). It
	// is passed to specialists verbatim.
	Metadata map[string]string

	// MaxRevisions overrides the workflow's revision budget for this run.
	// Nil uses the configured default; an explicit 0 disallows revisions.
	MaxRevisions *int
}

// Validate rejects unusable intake before a run is created. A rejected
// input leaves no trace in the store.
func (in CaseInput) Validate() error {
	if strings.TrimSpace(in.CaseText) == "" {
		return ErrEmptyCase
	}
	if len(in.CaseText) > MaxCaseTextBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrCaseTooLong, len(in.CaseText), MaxCaseTextBytes)
	}
	if in.MaxRevisions != nil && *in.MaxRevisions < 0 {
		return ErrNegativeRevisions
	}
	return nil
}

// ReviewDecision is an externally supplied resolution for a pending review.
type ReviewDecision string

// Review decisions a human may make. Timeouts are resolved by the sweep,
// not by this API.
const (
	DecisionApproved ReviewDecision = "approved"
	DecisionModified ReviewDecision = "modified"
)

// Config assembles a Workflow. Store is required; Reviews is required
// unless ReviewMode is never. Every other field has a working default.
type Config struct {
	// Store persists run checkpoints.
	Store store.Store[CaseState]

	// Reviews persists human review requests. May be the same backend
	// instance as Store.
	Reviews store.ReviewStore[CaseState]

	// Emitter receives engine observability events. Nil drops them.
	Emitter emit.Emitter

	// Notifier alerts reviewers of pending reviews. Nil uses NullNotifier.
	Notifier notify.Notifier

	// Logger is used for workflow-level warnings. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics receives Prometheus instrumentation. Nil disables it.
	Metrics *flow.Metrics

	// Classifier assigns categories. Nil uses NewRuleClassifier().
	Classifier Classifier

	// Analyzers maps specialist IDs to implementations. Nil uses
	// specialist.DefaultAnalyzers().
	Analyzers map[string]specialist.Analyzer

	// Routes maps categories to specialist IDs. Nil uses DefaultRoutes().
	Routes Routes

	// Critic evaluates merged analyses. Nil uses RuleCritic{}.
	Critic Critic

	// Reviser regenerates analyses on critic feedback. Nil uses
	// TemplateReviser{}.
	Reviser Reviser

	// MaxRevisions bounds the revision loop per run. 0 applies
	// DefaultMaxRevisions; use a CaseInput override for a genuinely
	// revision-free run.
	MaxRevisions int

	// SpecialistTimeout bounds each specialist consult independently.
	// 0 applies DefaultSpecialistTimeout.
	SpecialistTimeout time.Duration

	// ReviewTimeout is how long a review may stay pending before the sweep
	// resolves it as timed out. 0 applies DefaultReviewTimeout.
	ReviewTimeout time.Duration

	// ReviewMode controls gate entry. "" applies ReviewAuto.
	ReviewMode ReviewMode

	// ConflictPolicy controls what specialist disagreement does.
	// "" applies ConflictSurface.
	ConflictPolicy ConflictPolicy

	// CriticFailOpen ships output flagged unverified when the critic
	// errors, instead of failing the run. The default is fail-closed.
	CriticFailOpen bool

	// MaxSteps guards the engine loop against routing bugs. 0 applies
	// DefaultMaxSteps.
	MaxSteps int

	// NodeTimeout is an engine-wide per-node timeout. 0 disables it; the
	// specialist fan-out carries its own deadlines either way.
	NodeTimeout time.Duration
}

// Workflow is the assembled case triage pipeline.
type Workflow struct {
	engine   *flow.Engine[CaseState]
	store    store.Store[CaseState]
	reviews  store.ReviewStore[CaseState]
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *flow.Metrics

	classifier Classifier
	analyzers  map[string]specialist.Analyzer
	routes     Routes
	critic     Critic
	reviser    Reviser

	maxRevisions      int
	specialistTimeout time.Duration
	reviewTimeout     time.Duration
	reviewMode        ReviewMode
	conflictPolicy    ConflictPolicy
	criticFailOpen    bool
}

// New assembles and validates a Workflow.
func New(cfg Config) (*Workflow, error) {
	if cfg.Store == nil {
		return nil, errors.New("triage: Store is required")
	}
	if cfg.Reviews == nil && cfg.ReviewMode != ReviewNever {
		return nil, errors.New("triage: Reviews is required unless ReviewMode is never")
	}

	w := &Workflow{
		store:             cfg.Store,
		reviews:           cfg.Reviews,
		notifier:          cfg.Notifier,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		classifier:        cfg.Classifier,
		analyzers:         cfg.Analyzers,
		routes:            cfg.Routes,
		critic:            cfg.Critic,
		reviser:           cfg.Reviser,
		maxRevisions:      cfg.MaxRevisions,
		specialistTimeout: cfg.SpecialistTimeout,
		reviewTimeout:     cfg.ReviewTimeout,
		reviewMode:        cfg.ReviewMode,
		conflictPolicy:    cfg.ConflictPolicy,
		criticFailOpen:    cfg.CriticFailOpen,
	}
	if w.notifier == nil {
		w.notifier = notify.NullNotifier{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.classifier == nil {
		w.classifier = NewRuleClassifier()
	}
	if w.analyzers == nil {
		w.analyzers = specialist.DefaultAnalyzers()
	}
	if w.routes == nil {
		w.routes = DefaultRoutes()
	}
	if w.critic == nil {
		w.critic = RuleCritic{}
	}
	if w.reviser == nil {
		w.reviser = TemplateReviser{}
	}
	if w.maxRevisions == 0 {
		w.maxRevisions = DefaultMaxRevisions
	}
	if w.specialistTimeout == 0 {
		w.specialistTimeout = DefaultSpecialistTimeout
	}
	if w.reviewTimeout == 0 {
		w.reviewTimeout = DefaultReviewTimeout
	}
	if w.reviewMode == "" {
		w.reviewMode = ReviewAuto
	}
	if w.conflictPolicy == "" {
		w.conflictPolicy = ConflictSurface
	}

	if err := w.validateRouting(); err != nil {
		return nil, err
	}

	maxSteps := cfg.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	eng := flow.New(Reduce, cfg.Store, cfg.Emitter, flow.Options{
		MaxSteps:    maxSteps,
		NodeTimeout: cfg.NodeTimeout,
		Metrics:     cfg.Metrics,
	})
	eng.Journal(journal)

	nodes := []struct {
		id string
		fn flow.NodeFunc[CaseState]
	}{
		{nodeNormalize, w.normalizeNode},
		{nodeClassify, w.classifyNode},
		{nodeDispatch, w.dispatchNode},
		{nodeAnalyze, w.analyzeNode},
		{nodeSynthesize, w.synthesizeNode},
		{nodeCritic, w.criticNode},
		{nodeRevise, w.reviseNode},
		{nodeExplain, w.explainNode},
		{nodeAwaitReview, w.awaitReviewNode},
		{nodeResolveReview, w.resolveReviewNode},
	}
	for _, n := range nodes {
		if err := eng.Add(n.id, n.fn); err != nil {
			return nil, err
		}
	}
	if err := eng.StartAt(nodeNormalize); err != nil {
		return nil, err
	}
	// The one edge in the graph: a run parked at the gate resumes into the
	// node that folds the review outcome in. Everything else routes
	// explicitly.
	if err := eng.Connect(nodeAwaitReview, nodeResolveReview, nil); err != nil {
		return nil, err
	}

	w.engine = eng
	return w, nil
}

// validateRouting checks that every routed specialist has an analyzer, so a
// misconfigured pool fails at startup rather than mid-run.
func (w *Workflow) validateRouting() error {
	missing := make(map[string]bool)
	for _, ids := range w.routes {
		for _, id := range ids {
			if _, ok := w.analyzers[id]; !ok {
				missing[id] = true
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	ids := make([]string, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Errorf("triage: routed specialists have no analyzer: %s", strings.Join(ids, ", "))
}

// NewRunID returns a fresh run identifier, sortable by creation time.
func NewRunID() string {
	return fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// initialState builds the intake state for a new run.
func (w *Workflow) initialState(runID string, input CaseInput) CaseState {
	now := time.Now().UTC()
	maxRevisions := w.maxRevisions
	if input.MaxRevisions != nil {
		maxRevisions = *input.MaxRevisions
	}
	return CaseState{
		RunID:        runID,
		CaseText:     input.CaseText,
		Metadata:     input.Metadata,
		Status:       StatusStarted,
		MaxRevisions: maxRevisions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Run executes a new case synchronously until it completes, fails, or parks
// at the review gate. The returned state is the final (or parked) state; a
// node failure returns the failure-checkpoint state along with the error.
func (w *Workflow) Run(ctx context.Context, runID string, input CaseInput) (CaseState, error) {
	if err := input.Validate(); err != nil {
		return CaseState{}, err
	}
	return w.engine.Run(ctx, runID, w.initialState(runID, input))
}

// Start accepts a case and writes its intake checkpoint without executing
// any node, which is how a service acknowledges intake synchronously and
// processes asynchronously. Processing continues via Resume.
func (w *Workflow) Start(ctx context.Context, runID string, input CaseInput) (CaseState, error) {
	if err := input.Validate(); err != nil {
		return CaseState{}, err
	}
	initial := w.initialState(runID, input)
	if err := w.engine.Start(ctx, runID, initial); err != nil {
		return CaseState{}, err
	}
	return initial, nil
}

// Resume continues a run from its latest checkpoint: a fresh intake, a
// failed node to retry, or a resolved review gate. Resuming a parked run
// whose review is still pending returns ErrReviewPending; resuming a
// finished run returns flow.ErrRunFinished with the final state.
//
// The pending-review guard applies only to a suspended checkpoint. A
// pending review without one is an orphan from a failed suspend write, and
// resuming is how the run retries the gate and picks the review back up.
func (w *Workflow) Resume(ctx context.Context, runID string) (CaseState, error) {
	if w.reviews != nil {
		cp, err := w.store.LoadLatest(ctx, runID)
		if err != nil {
			return CaseState{}, fmt.Errorf("resume %s: %w", runID, err)
		}
		if cp.Suspended {
			review, err := w.reviews.PendingReview(ctx, runID)
			switch {
			case err == nil:
				return CaseState{}, fmt.Errorf("%w: review %s", ErrReviewPending, review.ID)
			case !errors.Is(err, store.ErrNotFound):
				return CaseState{}, fmt.Errorf("check pending review for %s: %w", runID, err)
			}
		}
	}
	return w.engine.Resume(ctx, runID)
}

// State returns the latest checkpointed state for a run.
func (w *Workflow) State(ctx context.Context, runID string) (CaseState, error) {
	cp, err := w.store.LoadLatest(ctx, runID)
	if err != nil {
		return CaseState{}, err
	}
	return cp.State, nil
}

// History returns every checkpoint of a run in sequence order, for audit
// tooling.
func (w *Workflow) History(ctx context.Context, runID string) ([]store.Checkpoint[CaseState], error) {
	return w.store.History(ctx, runID)
}

// PendingReview returns a run's pending review, or store.ErrNotFound.
func (w *Workflow) PendingReview(ctx context.Context, runID string) (store.Review[CaseState], error) {
	return w.reviews.PendingReview(ctx, runID)
}

// GetReview returns a review by ID, or store.ErrNotFound.
func (w *Workflow) GetReview(ctx context.Context, reviewID string) (store.Review[CaseState], error) {
	return w.reviews.GetReview(ctx, reviewID)
}

// ResolveReview applies a human decision to a pending review and resumes
// the parked run to completion.
//
// The resolution is compare-and-set on pending status: a review already
// resolved (by another reviewer or by the timeout sweep) returns
// store.ErrAlreadyResolved and the run is not resumed again. Edits apply
// only to a modified decision and only to EditableFields.
func (w *Workflow) ResolveReview(ctx context.Context, reviewID string, decision ReviewDecision, feedback string, edits map[string]string) (CaseState, error) {
	var status store.ReviewStatus
	switch decision {
	case DecisionApproved:
		status = store.ReviewApproved
		edits = nil
	case DecisionModified:
		status = store.ReviewModified
		if err := validateEdits(edits); err != nil {
			return CaseState{}, err
		}
	default:
		return CaseState{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, decision)
	}

	review, err := w.reviews.GetReview(ctx, reviewID)
	if err != nil {
		return CaseState{}, err
	}
	if review.Status != store.ReviewPending {
		return CaseState{}, fmt.Errorf("review %s: %w", reviewID, store.ErrAlreadyResolved)
	}
	if err := w.requireParked(ctx, review.RunID); err != nil {
		return CaseState{}, err
	}

	res := store.Resolution{
		Status:   status,
		Feedback: feedback,
		Edits:    edits,
		At:       time.Now().UTC(),
	}
	if err := w.reviews.ResolveReview(ctx, reviewID, res); err != nil {
		return CaseState{}, err
	}
	w.metrics.Review(string(status))

	return w.engine.Resume(ctx, review.RunID)
}

// ExpireReview resolves a timed-out review and resumes its run with the
// automated result. The timeout sweep calls it; the compare-and-set makes
// the sweep lose cleanly when a human resolution races it, so exactly one
// side resumes the run.
func (w *Workflow) ExpireReview(ctx context.Context, review store.Review[CaseState]) (CaseState, error) {
	if err := w.requireParked(ctx, review.RunID); err != nil {
		return CaseState{}, err
	}
	res := store.Resolution{
		Status: store.ReviewTimedOut,
		At:     time.Now().UTC(),
	}
	if err := w.reviews.ResolveReview(ctx, review.ID, res); err != nil {
		return CaseState{}, err
	}
	w.metrics.Review("timed_out")

	return w.engine.Resume(ctx, review.RunID)
}

// ExpiredReviews lists pending reviews whose deadline has passed.
func (w *Workflow) ExpiredReviews(ctx context.Context, asOf time.Time) ([]store.Review[CaseState], error) {
	return w.reviews.ExpiredReviews(ctx, asOf)
}

// requireParked verifies a run is suspended at the review gate before a
// resolution resumes it. A review whose suspend checkpoint never made it to
// the store must not resume the run mid-retry; Resume re-enters the gate
// and reclaims the review instead.
func (w *Workflow) requireParked(ctx context.Context, runID string) error {
	cp, err := w.store.LoadLatest(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if !cp.Suspended {
		return fmt.Errorf("%w: %s", ErrRunNotParked, runID)
	}
	return nil
}
