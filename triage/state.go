package triage

import "time"

// Status is the lifecycle state of a case run. It advances monotonically
// through the pipeline except for the revision loop (reviewing ⇄ revising)
// and the retry path out of failed.
type Status string

// Case lifecycle states.
const (
	StatusStarted       Status = "started"
	StatusClassified    Status = "classified"
	StatusAnalyzing     Status = "analyzing"
	StatusReviewing     Status = "reviewing"
	StatusRevising      Status = "revising"
	StatusAwaitingHuman Status = "awaiting_human"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// transitions is the set of legal status moves. Same-status writes are
// always legal because nodes pass the full state back through the reducer.
// failed is not terminal for transition purposes: a retried node re-asserts
// the status of its stage.
var transitions = map[Status][]Status{
	StatusStarted:       {StatusClassified, StatusFailed},
	StatusClassified:    {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:     {StatusReviewing, StatusFailed},
	StatusReviewing:     {StatusRevising, StatusAwaitingHuman, StatusCompleted, StatusFailed},
	StatusRevising:      {StatusReviewing, StatusFailed},
	StatusAwaitingHuman: {StatusCompleted, StatusFailed},
	StatusCompleted:     nil,
	StatusFailed: {
		StatusStarted, StatusClassified, StatusAnalyzing, StatusReviewing,
		StatusRevising, StatusAwaitingHuman, StatusCompleted,
	},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s == next || s == "" {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Category is a case's legal area, assigned by the classifier. Compound
// categories (housing_family) mark cases that straddle two areas and fan
// out to both specialists.
type Category string

// Known case categories.
const (
	CategoryCriminal      Category = "criminal"
	CategoryHousing       Category = "housing"
	CategoryFamily        Category = "family"
	CategoryEmployment    Category = "employment"
	CategoryImmigration   Category = "immigration"
	CategoryConsumer      Category = "consumer"
	CategoryHousingFamily Category = "housing_family"
	CategoryGeneral       Category = "general"
)

// SpecialistResult is one specialist's contribution to a case. A timed-out
// or failed consult is kept with its error so the audit trail shows every
// specialist that was asked, not just the ones that answered.
type SpecialistResult struct {
	SpecialistID    string    `json:"specialist_id"`
	Content         string    `json:"content,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	TokensUsed      int       `json:"tokens_used,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`

	// Error is the consult failure, "timeout: ..." for a deadline miss.
	// Empty on success.
	Error string `json:"error,omitempty"`
}

// HistoryEntry is one audit record appended by the journal after each step.
type HistoryEntry struct {
	Node    string    `json:"node"`
	At      time.Time `json:"at"`
	Summary string    `json:"summary"`
	Error   string    `json:"error,omitempty"`
}

// CaseState is the workflow state for one case run. It is the type
// checkpointed after every step, so everything here must survive a JSON
// round trip.
type CaseState struct {
	// RunID and CreatedAt are set at intake and never change.
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// CaseText is the intake text, canonicalized by normalize.
	CaseText string            `json:"case_text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Classification and dispatch.
	Category            Category `json:"category,omitempty"`
	AssignedSpecialists []string `json:"assigned_specialists,omitempty"`

	// Analysis and synthesis.
	SpecialistResults map[string]SpecialistResult `json:"specialist_results,omitempty"`
	FinalAnalysis     string                      `json:"final_analysis,omitempty"`
	Conflicts         []string                    `json:"conflicts,omitempty"`
	Explanation       string                      `json:"explanation,omitempty"`

	// Critic / revision loop.
	NeedsRevision bool   `json:"needs_revision,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
	RevisionCount int    `json:"revision_count,omitempty"`
	MaxRevisions  int    `json:"max_revisions,omitempty"`

	// Unverified marks output delivered without passing critique, either
	// because the revision budget ran out or the critic was unavailable
	// under a fail-open policy.
	Unverified bool `json:"unverified,omitempty"`

	// Human review gate.
	ReviewID         string `json:"review_id,omitempty"`
	ReviewOutcome    string `json:"review_outcome,omitempty"`
	ReviewerFeedback string `json:"reviewer_feedback,omitempty"`

	// Bookkeeping maintained by the journal.
	Status      Status         `json:"status,omitempty"`
	CurrentStep string         `json:"current_step,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
	Error       string         `json:"error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
