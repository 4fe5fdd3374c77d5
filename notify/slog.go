package notify

import (
	"context"
	"log/slog"
)

// LogNotifier announces pending reviews to a structured logger. It is the
// default notifier, so reviews surface in service logs even when no webhook
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier. A nil logger uses
// slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the pending review at info level.
func (n *LogNotifier) Notify(ctx context.Context, review Review) error {
	n.logger.InfoContext(ctx, "human review pending",
		"review_id", review.ID,
		"run_id", review.RunID,
		"category", review.Category,
		"timeout_at", review.TimeoutAt,
	)
	return nil
}
