// Package notify alerts human reviewers when a case run parks at the
// review gate. Notifications are best-effort: a failed delivery is logged
// and the review stays pending until resolved or swept, so no notifier
// implementation may block or fail a run.
package notify

import (
	"context"
	"time"
)

// Review is the payload delivered to reviewers for a pending review.
type Review struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Category  string    `json:"category,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	TimeoutAt time.Time `json:"timeout_at"`
}

// Notifier delivers pending-review notifications.
type Notifier interface {
	// Notify announces a pending review. Implementations should honor ctx
	// and return quickly; the caller treats errors as non-fatal.
	Notify(ctx context.Context, review Review) error
}
