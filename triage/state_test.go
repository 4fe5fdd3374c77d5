package triage

import "testing"

func TestStatusCanTransition(t *testing.T) {
	t.Run("pipeline order is legal", func(t *testing.T) {
		steps := []Status{
			StatusStarted, StatusClassified, StatusAnalyzing,
			StatusReviewing, StatusCompleted,
		}
		for i := 0; i < len(steps)-1; i++ {
			if !steps[i].CanTransition(steps[i+1]) {
				t.Errorf("expected %s -> %s to be legal", steps[i], steps[i+1])
			}
		}
	})

	t.Run("revision loop is legal both ways", func(t *testing.T) {
		if !StatusReviewing.CanTransition(StatusRevising) {
			t.Error("expected reviewing -> revising to be legal")
		}
		if !StatusRevising.CanTransition(StatusReviewing) {
			t.Error("expected revising -> reviewing to be legal")
		}
	})

	t.Run("same status is always legal", func(t *testing.T) {
		for _, s := range []Status{StatusStarted, StatusAnalyzing, StatusCompleted} {
			if !s.CanTransition(s) {
				t.Errorf("expected %s -> %s to be legal", s, s)
			}
		}
	})

	t.Run("empty source is always legal", func(t *testing.T) {
		if !Status("").CanTransition(StatusStarted) {
			t.Error("expected empty status to transition anywhere")
		}
	})

	t.Run("skipping stages is illegal", func(t *testing.T) {
		if StatusStarted.CanTransition(StatusReviewing) {
			t.Error("expected started -> reviewing to be illegal")
		}
		if StatusClassified.CanTransition(StatusCompleted) {
			t.Error("expected classified -> completed to be illegal")
		}
	})

	t.Run("completed is final", func(t *testing.T) {
		for _, next := range []Status{StatusStarted, StatusReviewing, StatusFailed} {
			if StatusCompleted.CanTransition(next) {
				t.Errorf("expected completed -> %s to be illegal", next)
			}
		}
	})

	t.Run("failed can retry into any stage", func(t *testing.T) {
		for _, next := range []Status{StatusStarted, StatusAnalyzing, StatusAwaitingHuman, StatusCompleted} {
			if !StatusFailed.CanTransition(next) {
				t.Errorf("expected failed -> %s to be legal for retries", next)
			}
		}
	})
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusStarted:       false,
		StatusClassified:    false,
		StatusAnalyzing:     false,
		StatusReviewing:     false,
		StatusRevising:      false,
		StatusAwaitingHuman: false,
		StatusCompleted:     true,
		StatusFailed:        true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal(): expected %v, got %v", status, want, got)
		}
	}
}
