package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store and ReviewStore.
//
// A single-file database suits single-node deployments and development:
// zero setup, durable across restarts, WAL mode for concurrent reads. The
// driver is modernc.org/sqlite, so builds stay pure Go with no cgo.
//
// Times are stored as fixed-width RFC 3339 text because SQLite has no
// native timestamp type; state is stored as JSON text.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and if necessary creates) the database at path and
// migrates the schema.
//
// Path accepts a file path ("./caseflow.db") or ":memory:" for tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// also keeps :memory: databases alive between calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id    TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	node      TEXT    NOT NULL,
	next      TEXT    NOT NULL,
	done      INTEGER NOT NULL,
	suspended INTEGER NOT NULL,
	state     TEXT    NOT NULL,
	digest    TEXT    NOT NULL,
	at        TEXT    NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS reviews (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	node        TEXT NOT NULL,
	state       TEXT NOT NULL,
	status      TEXT NOT NULL,
	feedback    TEXT NOT NULL DEFAULT '',
	edits       TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	timeout_at  TEXT NOT NULL,
	resolved_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reviews_run ON reviews(run_id, status);
CREATE INDEX IF NOT EXISTS idx_reviews_expiry ON reviews(status, timeout_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save upserts a checkpoint on (run_id, seq).
func (s *SQLiteStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("sqlite save: marshal state: %w", err)
	}

	const q = `
INSERT INTO checkpoints (run_id, seq, node, next, done, suspended, state, digest, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO UPDATE SET
	node = excluded.node,
	next = excluded.next,
	done = excluded.done,
	suspended = excluded.suspended,
	state = excluded.state,
	digest = excluded.digest,
	at = excluded.at`

	_, err = s.db.ExecContext(ctx, q,
		cp.RunID, cp.Seq, cp.Node, cp.Next,
		boolToInt(cp.Done), boolToInt(cp.Suspended),
		string(stateJSON), cp.Digest, formatTime(cp.At))
	if err != nil {
		return fmt.Errorf("sqlite save: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-seq checkpoint for a run.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	const q = `
SELECT run_id, seq, node, next, done, suspended, state, digest, at
FROM checkpoints WHERE run_id = ?
ORDER BY seq DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, q, runID)
	cp, err := scanCheckpoint[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("sqlite load latest: %w", err)
	}
	return cp, nil
}

// History returns all checkpoints for a run in ascending seq order.
func (s *SQLiteStore[S]) History(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	const q = `
SELECT run_id, seq, node, next, done, suspended, state, digest, at
FROM checkpoints WHERE run_id = ?
ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite history: %w", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	return cps, nil
}

// CreateReview persists a new review request.
func (s *SQLiteStore[S]) CreateReview(ctx context.Context, review Review[S]) error {
	stateJSON, err := json.Marshal(review.State)
	if err != nil {
		return fmt.Errorf("sqlite create review: marshal state: %w", err)
	}
	editsJSON, err := marshalEdits(review.Edits)
	if err != nil {
		return fmt.Errorf("sqlite create review: %w", err)
	}

	const q = `
INSERT INTO reviews (id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '')`

	_, err = s.db.ExecContext(ctx, q,
		review.ID, review.RunID, review.Node, string(stateJSON),
		string(review.Status), review.Feedback, editsJSON,
		formatTime(review.CreatedAt), formatTime(review.TimeoutAt))
	if err != nil {
		return fmt.Errorf("sqlite create review: %w", err)
	}
	return nil
}

// GetReview returns a review by ID.
func (s *SQLiteStore[S]) GetReview(ctx context.Context, id string) (Review[S], error) {
	const q = `
SELECT id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at
FROM reviews WHERE id = ?`

	review, err := scanReview[S](s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Review[S]{}, ErrNotFound
	}
	if err != nil {
		return Review[S]{}, fmt.Errorf("sqlite get review: %w", err)
	}
	return review, nil
}

// PendingReview returns the pending review for a run, if any.
func (s *SQLiteStore[S]) PendingReview(ctx context.Context, runID string) (Review[S], error) {
	const q = `
SELECT id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at
FROM reviews WHERE run_id = ? AND status = 'pending'
ORDER BY created_at DESC LIMIT 1`

	review, err := scanReview[S](s.db.QueryRowContext(ctx, q, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Review[S]{}, ErrNotFound
	}
	if err != nil {
		return Review[S]{}, fmt.Errorf("sqlite pending review: %w", err)
	}
	return review, nil
}

// ExpiredReviews returns pending reviews past their timeout, oldest first.
func (s *SQLiteStore[S]) ExpiredReviews(ctx context.Context, asOf time.Time) ([]Review[S], error) {
	const q = `
SELECT id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at
FROM reviews WHERE status = 'pending' AND timeout_at <= ?
ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("sqlite expired reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var expired []Review[S]
	for rows.Next() {
		review, err := scanReview[S](rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite expired reviews: %w", err)
		}
		expired = append(expired, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite expired reviews: %w", err)
	}
	return expired, nil
}

// ResolveReview transitions a pending review to its final status. The WHERE
// status='pending' clause is the compare-and-set.
func (s *SQLiteStore[S]) ResolveReview(ctx context.Context, id string, res Resolution) error {
	editsJSON, err := marshalEdits(res.Edits)
	if err != nil {
		return fmt.Errorf("sqlite resolve review: %w", err)
	}

	const q = `
UPDATE reviews SET status = ?, feedback = ?, edits = ?, resolved_at = ?
WHERE id = ? AND status = 'pending'`

	result, err := s.db.ExecContext(ctx, q, string(res.Status), res.Feedback, editsJSON, formatTime(res.At), id)
	if err != nil {
		return fmt.Errorf("sqlite resolve review: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite resolve review: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetReview(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection. Safe to call more than once.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp              Checkpoint[S]
		done, suspended int
		stateJSON, at   string
	)
	if err := row.Scan(&cp.RunID, &cp.Seq, &cp.Node, &cp.Next, &done, &suspended, &stateJSON, &cp.Digest, &at); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("unmarshal state: %w", err)
	}
	parsed, err := parseTime(at)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	cp.Done = done != 0
	cp.Suspended = suspended != 0
	cp.At = parsed
	return cp, nil
}

func scanReview[S any](row rowScanner) (Review[S], error) {
	var (
		review                                Review[S]
		status, editsJSON                     string
		stateJSON, created, timeout, resolved string
	)
	if err := row.Scan(&review.ID, &review.RunID, &review.Node, &stateJSON, &status, &review.Feedback, &editsJSON, &created, &timeout, &resolved); err != nil {
		return Review[S]{}, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &review.State); err != nil {
		return Review[S]{}, fmt.Errorf("unmarshal state: %w", err)
	}
	review.Status = ReviewStatus(status)

	var err error
	if review.Edits, err = unmarshalEdits(editsJSON); err != nil {
		return Review[S]{}, err
	}
	if review.CreatedAt, err = parseTime(created); err != nil {
		return Review[S]{}, err
	}
	if review.TimeoutAt, err = parseTime(timeout); err != nil {
		return Review[S]{}, err
	}
	if resolved != "" {
		if review.ResolvedAt, err = parseTime(resolved); err != nil {
			return Review[S]{}, err
		}
	}
	return review, nil
}

func marshalEdits(edits map[string]string) (string, error) {
	if len(edits) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(edits)
	if err != nil {
		return "", fmt.Errorf("marshal edits: %w", err)
	}
	return string(b), nil
}

func unmarshalEdits(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var edits map[string]string
	if err := json.Unmarshal([]byte(s), &edits); err != nil {
		return nil, fmt.Errorf("unmarshal edits: %w", err)
	}
	return edits, nil
}

// sqliteTimeLayout pins the fraction to nine digits. RFC3339Nano trims
// trailing zeros, and the expiry query compares timeout_at as text, so the
// stored strings must be fixed-width for lexicographic order to match
// chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
