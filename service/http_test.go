package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/caseflow-go/flow/store"
	"github.com/dshills/caseflow-go/triage"
)

func newTestServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(svc, discardLogger()).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// postJSON marshals payload, POSTs it, and decodes the JSON response.
func postJSON(t *testing.T, ts *httptest.Server, path string, payload any) (int, map[string]any) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()

	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAPIStartCaseAndStatus(t *testing.T) {
	svc := newTestService(t, nil)
	ts := newTestServer(t, svc)

	status, body := postJSON(t, ts, "/api/cases", map[string]any{
		"case_text": criminalIntake,
		"metadata":  map[string]string{"channel": "walk-in"},
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "started", body["status"])

	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)

	waitForStatus(t, svc, runID, triage.StatusCompleted)

	status, run := getJSON(t, ts, "/api/runs/"+runID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", run["status"])
	assert.Equal(t, "criminal", run["category"])
	assert.NotEmpty(t, run["final_analysis"])
	assert.NotEmpty(t, run["explanation"])
	assert.NotEmpty(t, run["history"])
	assert.NotContains(t, run, "pending_review_id")
}

func TestAPIStartCaseRejectsBadRequests(t *testing.T) {
	svc := newTestService(t, nil)
	ts := newTestServer(t, svc)

	t.Run("malformed json", func(t *testing.T) {
		resp, err := ts.Client().Post(ts.URL+"/api/cases", "application/json",
			strings.NewReader("{not json"))
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "invalid request body")
	})

	t.Run("empty case text", func(t *testing.T) {
		status, body := postJSON(t, ts, "/api/cases", map[string]any{"case_text": "  "})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "case text is empty")
	})

	t.Run("oversized body", func(t *testing.T) {
		status, body := postJSON(t, ts, "/api/cases", map[string]any{
			"case_text": criminalIntake,
			"metadata":  map[string]string{"notes": strings.Repeat("a", maxRequestBody)},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "request body too large")
	})

	t.Run("negative revision override", func(t *testing.T) {
		status, body := postJSON(t, ts, "/api/cases", map[string]any{
			"case_text":     criminalIntake,
			"max_revisions": -3,
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "max revisions cannot be negative")
	})
}

func TestAPIRunNotFound(t *testing.T) {
	svc := newTestService(t, nil)
	ts := newTestServer(t, svc)

	status, _ := getJSON(t, ts, "/api/runs/run-absent")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = postJSON(t, ts, "/api/runs/run-absent/resume", map[string]any{})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = getJSON(t, ts, "/api/reviews/rev-absent")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIReviewFlow(t *testing.T) {
	svc := newTestService(t, func(cfg *triage.Config) {
		cfg.ReviewMode = triage.ReviewAlways
	})
	ts := newTestServer(t, svc)

	status, body := postJSON(t, ts, "/api/cases", map[string]any{"case_text": criminalIntake})
	require.Equal(t, http.StatusAccepted, status)
	runID := body["run_id"].(string)

	waitForStatus(t, svc, runID, triage.StatusAwaitingHuman)
	waitForRelease(t, svc, runID)

	status, run := getJSON(t, ts, "/api/runs/"+runID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "awaiting_human", run["status"])
	assert.NotContains(t, run, "final_analysis", "unapproved output stays internal")

	reviewID, _ := run["pending_review_id"].(string)
	require.NotEmpty(t, reviewID)

	status, review := getJSON(t, ts, "/api/reviews/"+reviewID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, runID, review["run_id"])
	assert.Equal(t, "pending", review["status"])
	assert.NotEmpty(t, review["timeout_at"])

	// The run cannot be resumed around a pending review.
	status, body = postJSON(t, ts, "/api/runs/"+runID+"/resume", map[string]any{})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "review")

	status, body = postJSON(t, ts, "/api/reviews/"+reviewID+"/resolve", map[string]any{
		"outcome": "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "invalid review outcome")

	status, body = postJSON(t, ts, "/api/reviews/"+reviewID+"/resolve", map[string]any{
		"outcome": "modified",
		"edits":   map[string]string{"verdict": "changed"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "edit not permitted")

	status, resolved := postJSON(t, ts, "/api/reviews/"+reviewID+"/resolve", map[string]any{
		"outcome":  "approved",
		"feedback": "checked against the intake notes",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", resolved["status"])
	assert.Equal(t, "approved", resolved["review_outcome"])
	assert.NotEmpty(t, resolved["final_analysis"])

	status, body = postJSON(t, ts, "/api/reviews/"+reviewID+"/resolve", map[string]any{
		"outcome": "approved",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "already resolved")
}

func TestAPIResolveModified(t *testing.T) {
	svc := newTestService(t, func(cfg *triage.Config) {
		cfg.ReviewMode = triage.ReviewAlways
	})
	ts := newTestServer(t, svc)

	status, body := postJSON(t, ts, "/api/cases", map[string]any{"case_text": criminalIntake})
	require.Equal(t, http.StatusAccepted, status)
	runID := body["run_id"].(string)

	sum := waitForStatus(t, svc, runID, triage.StatusAwaitingHuman)
	waitForRelease(t, svc, runID)

	edited := "Reviewed analysis: consult the public defender's office first."
	status, resolved := postJSON(t, ts, "/api/reviews/"+sum.PendingReviewID+"/resolve", map[string]any{
		"outcome":  "modified",
		"feedback": "tightened the first step",
		"edits":    map[string]string{"final_analysis": edited},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", resolved["status"])
	assert.Equal(t, "modified", resolved["review_outcome"])
	assert.Equal(t, edited, resolved["final_analysis"])
}

func TestAPIHealthz(t *testing.T) {
	svc := newTestService(t, nil)
	ts := newTestServer(t, svc)

	status, body := getJSON(t, ts, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("resume: %w", store.ErrNotFound), http.StatusNotFound},
		{"already resolved", store.ErrAlreadyResolved, http.StatusConflict},
		{"run busy", fmt.Errorf("%w: run-1", ErrRunBusy), http.StatusConflict},
		{"run active", ErrRunActive, http.StatusConflict},
		{"review pending", triage.ErrReviewPending, http.StatusConflict},
		{"empty case", triage.ErrEmptyCase, http.StatusBadRequest},
		{"case too long", triage.ErrCaseTooLong, http.StatusBadRequest},
		{"negative revisions", triage.ErrNegativeRevisions, http.StatusBadRequest},
		{"invalid outcome", triage.ErrInvalidOutcome, http.StatusBadRequest},
		{"invalid edit", triage.ErrInvalidEdit, http.StatusBadRequest},
		{"anything else", errors.New("disk gone"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestSweeperRun(t *testing.T) {
	svc := newTestService(t, func(cfg *triage.Config) {
		cfg.ReviewMode = triage.ReviewAlways
		cfg.ReviewTimeout = time.Millisecond
	})
	ctx := context.Background()

	runID, err := svc.StartCase(ctx, triage.CaseInput{CaseText: criminalIntake})
	require.NoError(t, err)
	waitForStatus(t, svc, runID, triage.StatusAwaitingHuman)
	waitForRelease(t, svc, runID)

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- NewSweeper(svc, 5*time.Millisecond, discardLogger()).Run(sweepCtx)
	}()

	sum := waitForStatus(t, svc, runID, triage.StatusCompleted)
	assert.Equal(t, string(store.ReviewTimedOut), sum.ReviewOutcome)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestNewSweeperDefaults(t *testing.T) {
	svc := newTestService(t, nil)

	sw := NewSweeper(svc, 0, nil)
	assert.Equal(t, DefaultSweepInterval, sw.interval)
	assert.NotNil(t, sw.logger)
}
