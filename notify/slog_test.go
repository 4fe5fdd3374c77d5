package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), testReview()))

	out := buf.String()
	assert.Contains(t, out, "human review pending")
	assert.Contains(t, out, "review_id=rev-1")
	assert.Contains(t, out, "run_id=run-1")
	assert.Contains(t, out, "category=housing")
}

func TestLogNotifierNilLogger(t *testing.T) {
	n := NewLogNotifier(nil)
	require.NoError(t, n.Notify(context.Background(), testReview()))
}

func TestNullNotifier(t *testing.T) {
	require.NoError(t, NullNotifier{}.Notify(context.Background(), testReview()))
}
