package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultWebhookRetries = 3
	defaultWebhookBackoff = 500 * time.Millisecond
	maxWebhookBackoff     = 10 * time.Second
)

// WebhookNotifier POSTs review notifications as JSON to a reviewer endpoint.
// Delivery retries with exponential backoff and jitter; if every attempt
// fails the error is logged and returned, and the review remains pending
// until a human resolves it or the timeout sweep expires it.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	retries int
	backoff time.Duration
}

// WebhookOption customizes a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) { n.client = client }
}

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(retries int) WebhookOption {
	return func(n *WebhookNotifier) { n.retries = retries }
}

// WithBackoff sets the base delay between retries.
func WithBackoff(backoff time.Duration) WebhookOption {
	return func(n *WebhookNotifier) { n.backoff = backoff }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) WebhookOption {
	return func(n *WebhookNotifier) { n.logger = logger }
}

// NewWebhook creates a webhook notifier targeting url.
func NewWebhook(url string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		logger:  slog.Default(),
		retries: defaultWebhookRetries,
		backoff: defaultWebhookBackoff,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers the review payload, retrying transient failures.
func (n *WebhookNotifier) Notify(ctx context.Context, review Review) error {
	body, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("encode review notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.delay(attempt)):
			}
		}
		if lastErr = n.post(ctx, body); lastErr == nil {
			return nil
		}
		n.logger.DebugContext(ctx, "review notification attempt failed",
			"review_id", review.ID,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	n.logger.WarnContext(ctx, "review notification failed",
		"review_id", review.ID,
		"run_id", review.RunID,
		"error", lastErr,
	)
	return fmt.Errorf("notify webhook: %w", lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// delay computes min(backoff * 2^(attempt-1), cap) + jitter(0, backoff) so
// concurrent retries do not synchronize.
func (n *WebhookNotifier) delay(attempt int) time.Duration {
	d := n.backoff * (1 << (attempt - 1))
	if d > maxWebhookBackoff {
		d = maxWebhookBackoff
	}
	if n.backoff > 0 {
		d += time.Duration(rand.Int63n(int64(n.backoff)))
	}
	return d
}
