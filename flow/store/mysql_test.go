package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dshills/caseflow-go/flow/store"
)

// TestMySQLStoreLifecycle exercises the MySQL backend against a real
// database. Set CASEFLOW_TEST_MYSQL_DSN to run it, for example:
//
//	export CASEFLOW_TEST_MYSQL_DSN="user:pass@tcp(localhost:3306)/caseflow_test?parseTime=true"
func TestMySQLStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("CASEFLOW_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("set CASEFLOW_TEST_MYSQL_DSN to run MySQL store tests")
	}

	s, err := store.NewMySQLStore[caseState](dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	runID := fmt.Sprintf("mysql-test-%d", time.Now().UnixNano())

	t.Run("checkpoint round trip", func(t *testing.T) {
		for seq := 0; seq <= 2; seq++ {
			if err := s.Save(ctx, checkpoint(runID, seq)); err != nil {
				t.Fatalf("save seq %d: %v", seq, err)
			}
		}
		cp, err := s.LoadLatest(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if cp.Seq != 2 || cp.State.Tags["channel"] != "test" {
			t.Errorf("round trip failed: %+v", cp)
		}

		history, err := s.History(ctx, runID)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 3 {
			t.Errorf("expected 3 checkpoints, got %d", len(history))
		}
	})

	t.Run("review compare-and-set", func(t *testing.T) {
		id := fmt.Sprintf("rev-%d", time.Now().UnixNano())
		if err := s.CreateReview(ctx, pendingReview(id, runID, time.Now().Add(time.Hour))); err != nil {
			t.Fatal(err)
		}

		res := store.Resolution{Status: store.ReviewApproved, Feedback: "ok", At: time.Now().UTC()}
		if err := s.ResolveReview(ctx, id, res); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		err := s.ResolveReview(ctx, id, store.Resolution{Status: store.ReviewTimedOut, At: time.Now().UTC()})
		if !errors.Is(err, store.ErrAlreadyResolved) {
			t.Fatalf("second resolve: expected ErrAlreadyResolved, got %v", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
