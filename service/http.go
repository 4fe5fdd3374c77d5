package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dshills/caseflow-go/flow/store"
	"github.com/dshills/caseflow-go/triage"
)

// maxRequestBody bounds API request bodies. Case text itself is capped at
// triage.MaxCaseTextBytes; the extra headroom covers metadata and JSON
// framing.
const maxRequestBody = 256 * 1024

// Handler serves the triage JSON API.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler wraps a service. A nil logger falls back to slog.Default().
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/cases", h.startCase)
	mux.HandleFunc("GET /api/runs/{id}", h.getRun)
	mux.HandleFunc("POST /api/runs/{id}/resume", h.resumeRun)
	mux.HandleFunc("GET /api/reviews/{id}", h.getReview)
	mux.HandleFunc("POST /api/reviews/{id}/resolve", h.resolveReview)
	mux.HandleFunc("GET /healthz", h.healthz)
}

type startCaseRequest struct {
	CaseText     string            `json:"case_text"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MaxRevisions *int              `json:"max_revisions,omitempty"`
}

type resolveReviewRequest struct {
	Outcome  string            `json:"outcome"`
	Feedback string            `json:"feedback,omitempty"`
	Edits    map[string]string `json:"edits,omitempty"`
}

// startCase accepts an intake and returns 202 with the new run id. The run
// is durable before the response is written; processing is asynchronous.
func (h *Handler) startCase(w http.ResponseWriter, r *http.Request) {
	var req startCaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := triage.CaseInput{
		CaseText:     req.CaseText,
		Metadata:     req.Metadata,
		MaxRevisions: req.MaxRevisions,
	}
	runID, err := h.svc.StartCase(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(triage.StatusStarted),
	})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// resumeRun restarts a failed or interrupted run from its latest
// checkpoint.
func (h *Handler) resumeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := h.svc.ResumeRun(r.Context(), runID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "resuming",
	})
}

func (h *Handler) getReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.svc.GetReview(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *Handler) resolveReview(w http.ResponseWriter, r *http.Request) {
	var req resolveReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	sum, err := h.svc.ResolveHumanReview(r.Context(), r.PathValue("id"),
		triage.ReviewDecision(req.Outcome), req.Feedback, req.Edits)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a bounded JSON body into dst, writing a 400 and returning
// false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps service and workflow errors onto HTTP status codes.
// Anything unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, ErrRunBusy),
		errors.Is(err, ErrRunActive),
		errors.Is(err, triage.ErrReviewPending),
		errors.Is(err, triage.ErrRunNotParked):
		return http.StatusConflict
	case errors.Is(err, triage.ErrEmptyCase),
		errors.Is(err, triage.ErrCaseTooLong),
		errors.Is(err, triage.ErrNegativeRevisions),
		errors.Is(err, triage.ErrInvalidOutcome),
		errors.Is(err, triage.ErrInvalidEdit):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
