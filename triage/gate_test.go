package triage

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEdits(t *testing.T) {
	t.Run("whitelisted fields pass", func(t *testing.T) {
		edits := map[string]string{
			"final_analysis":    "corrected analysis",
			"explanation":       "corrected explanation",
			"reviewer_feedback": "checked against the lease",
		}
		if err := validateEdits(edits); err != nil {
			t.Fatalf("expected whitelisted edits to pass, got %v", err)
		}
	})

	t.Run("nil edits pass", func(t *testing.T) {
		if err := validateEdits(nil); err != nil {
			t.Fatalf("expected nil edits to pass, got %v", err)
		}
	})

	t.Run("immutable field is rejected", func(t *testing.T) {
		err := validateEdits(map[string]string{"category": "criminal"})
		if !errors.Is(err, ErrInvalidEdit) {
			t.Fatalf("expected ErrInvalidEdit, got %v", err)
		}
		if !strings.Contains(err.Error(), "category") {
			t.Errorf("expected the offending field named, got %q", err.Error())
		}
	})

	t.Run("one bad field rejects the whole set", func(t *testing.T) {
		edits := map[string]string{
			"final_analysis": "fine",
			"run_id":         "not fine",
		}
		if err := validateEdits(edits); !errors.Is(err, ErrInvalidEdit) {
			t.Fatalf("expected ErrInvalidEdit, got %v", err)
		}
	})
}

func TestApplyEdits(t *testing.T) {
	state := CaseState{
		RunID:         "run-1",
		FinalAnalysis: "original analysis",
		Explanation:   "original explanation",
	}

	applyEdits(&state, map[string]string{
		"final_analysis":    "edited analysis",
		"explanation":       "edited explanation",
		"reviewer_feedback": "edited feedback",
	})

	if state.FinalAnalysis != "edited analysis" {
		t.Errorf("expected final analysis edited, got %q", state.FinalAnalysis)
	}
	if state.Explanation != "edited explanation" {
		t.Errorf("expected explanation edited, got %q", state.Explanation)
	}
	if state.ReviewerFeedback != "edited feedback" {
		t.Errorf("expected reviewer feedback edited, got %q", state.ReviewerFeedback)
	}
	if state.RunID != "run-1" {
		t.Errorf("expected run ID untouched, got %q", state.RunID)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short passes through", "brief", 10, "brief"},
		{"exact length passes through", "12345", 5, "12345"},
		{"long is cut with ellipsis", "a very long summary", 6, "a very..."},
		{"multibyte runes are not split", "évictionné", 4, "évic..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
