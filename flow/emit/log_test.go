package emit

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogEmitter(t *testing.T) {
	t.Run("info for normal events with flattened attributes", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))

		l.Emit(Event{
			RunID: "run-1",
			Seq:   3,
			Node:  "classify",
			Msg:   MsgNodeDone,
			Meta:  map[string]any{"duration_ms": int64(12)},
		})

		out := buf.String()
		for _, want := range []string{"level=INFO", "msg=node_complete", "run_id=run-1", "seq=3", "node=classify", "duration_ms=12"} {
			if !strings.Contains(out, want) {
				t.Errorf("log line missing %q: %s", want, out)
			}
		}
	})

	t.Run("error level when the event carries an error", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))

		l.Emit(Event{
			RunID: "run-1",
			Seq:   4,
			Node:  "dispatch",
			Msg:   MsgNodeError,
			Meta:  map[string]any{"error": "no specialists for category"},
		})

		out := buf.String()
		if !strings.Contains(out, "level=ERROR") {
			t.Errorf("expected error level: %s", out)
		}
		if !strings.Contains(out, "no specialists for category") {
			t.Errorf("error detail missing: %s", out)
		}
	})
}
