package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store and ReviewStore.
//
// Suited to deployments where several service instances share one checkpoint
// database: the (run_id, seq) primary key and the review compare-and-set hold
// across processes, so two workers cannot both win the same review.
//
// State and reviewer edits are stored in JSON columns; times in DATETIME(6).
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store and migrates the schema.
//
// The DSN uses go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/caseflow
//
// Never hardcode credentials; read the DSN from the environment or config.
// ParseTime and a UTC location are forced on regardless of DSN parameters so
// DATETIME columns scan into time.Time consistently.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql migrate: %w", err)
	}
	return s, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	const checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id    VARCHAR(255) NOT NULL,
	seq       INT          NOT NULL,
	node      VARCHAR(255) NOT NULL,
	next      VARCHAR(255) NOT NULL,
	done      BOOLEAN      NOT NULL,
	suspended BOOLEAN      NOT NULL,
	state     JSON         NOT NULL,
	digest    CHAR(64)     NOT NULL,
	at        DATETIME(6)  NOT NULL,
	PRIMARY KEY (run_id, seq)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	if _, err := m.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}

	const reviews = `
CREATE TABLE IF NOT EXISTS reviews (
	id          VARCHAR(255) NOT NULL,
	run_id      VARCHAR(255) NOT NULL,
	node        VARCHAR(255) NOT NULL,
	state       JSON         NOT NULL,
	status      VARCHAR(32)  NOT NULL,
	feedback    TEXT         NOT NULL,
	edits       JSON         NOT NULL,
	created_at  DATETIME(6)  NOT NULL,
	timeout_at  DATETIME(6)  NOT NULL,
	resolved_at DATETIME(6)  NULL,
	PRIMARY KEY (id),
	INDEX idx_reviews_run (run_id, status),
	INDEX idx_reviews_expiry (status, timeout_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	if _, err := m.db.ExecContext(ctx, reviews); err != nil {
		return fmt.Errorf("create reviews table: %w", err)
	}
	return nil
}

// Save upserts a checkpoint on (run_id, seq).
func (m *MySQLStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	if err := m.guard(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("mysql save: marshal state: %w", err)
	}

	const q = `
INSERT INTO checkpoints (run_id, seq, node, next, done, suspended, state, digest, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	node = VALUES(node),
	next = VALUES(next),
	done = VALUES(done),
	suspended = VALUES(suspended),
	state = VALUES(state),
	digest = VALUES(digest),
	at = VALUES(at)`

	_, err = m.db.ExecContext(ctx, q,
		cp.RunID, cp.Seq, cp.Node, cp.Next, cp.Done, cp.Suspended,
		stateJSON, cp.Digest, cp.At.UTC())
	if err != nil {
		return fmt.Errorf("mysql save: %w", err)
	}
	return nil
}

// LoadLatest returns the highest-seq checkpoint for a run.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	if err := m.guard(); err != nil {
		return Checkpoint[S]{}, err
	}

	const q = `
SELECT run_id, seq, node, next, done, suspended, state, digest, at
FROM checkpoints WHERE run_id = ?
ORDER BY seq DESC LIMIT 1`

	cp, err := m.scanCheckpoint(m.db.QueryRowContext(ctx, q, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("mysql load latest: %w", err)
	}
	return cp, nil
}

// History returns all checkpoints for a run in ascending seq order.
func (m *MySQLStore[S]) History(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	if err := m.guard(); err != nil {
		return nil, err
	}

	const q = `
SELECT run_id, seq, node, next, done, suspended, state, digest, at
FROM checkpoints WHERE run_id = ?
ORDER BY seq ASC`

	rows, err := m.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("mysql history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []Checkpoint[S]
	for rows.Next() {
		cp, err := m.scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql history: %w", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql history: %w", err)
	}
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	return cps, nil
}

// CreateReview persists a new review request.
func (m *MySQLStore[S]) CreateReview(ctx context.Context, review Review[S]) error {
	if err := m.guard(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(review.State)
	if err != nil {
		return fmt.Errorf("mysql create review: marshal state: %w", err)
	}
	editsJSON, err := marshalEdits(review.Edits)
	if err != nil {
		return fmt.Errorf("mysql create review: %w", err)
	}

	const q = `
INSERT INTO reviews (id, run_id, node, state, status, feedback, edits, created_at, timeout_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = m.db.ExecContext(ctx, q,
		review.ID, review.RunID, review.Node, stateJSON,
		string(review.Status), review.Feedback, editsJSON,
		review.CreatedAt.UTC(), review.TimeoutAt.UTC())
	if err != nil {
		return fmt.Errorf("mysql create review: %w", err)
	}
	return nil
}

// GetReview returns a review by ID.
func (m *MySQLStore[S]) GetReview(ctx context.Context, id string) (Review[S], error) {
	if err := m.guard(); err != nil {
		return Review[S]{}, err
	}

	const q = `
SELECT id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at
FROM reviews WHERE id = ?`

	review, err := m.scanReview(m.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Review[S]{}, ErrNotFound
	}
	if err != nil {
		return Review[S]{}, fmt.Errorf("mysql get review: %w", err)
	}
	return review, nil
}

// PendingReview returns the pending review for a run, if any.
func (m *MySQLStore[S]) PendingReview(ctx context.Context, runID string) (Review[S], error) {
	if err := m.guard(); err != nil {
		return Review[S]{}, err
	}

	const q = `
SELECT id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at
FROM reviews WHERE run_id = ? AND status = 'pending'
ORDER BY created_at DESC LIMIT 1`

	review, err := m.scanReview(m.db.QueryRowContext(ctx, q, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Review[S]{}, ErrNotFound
	}
	if err != nil {
		return Review[S]{}, fmt.Errorf("mysql pending review: %w", err)
	}
	return review, nil
}

// ExpiredReviews returns pending reviews past their timeout, oldest first.
func (m *MySQLStore[S]) ExpiredReviews(ctx context.Context, asOf time.Time) ([]Review[S], error) {
	if err := m.guard(); err != nil {
		return nil, err
	}

	const q = `
SELECT id, run_id, node, state, status, feedback, edits, created_at, timeout_at, resolved_at
FROM reviews WHERE status = 'pending' AND timeout_at <= ?
ORDER BY created_at ASC`

	rows, err := m.db.QueryContext(ctx, q, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("mysql expired reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var expired []Review[S]
	for rows.Next() {
		review, err := m.scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql expired reviews: %w", err)
		}
		expired = append(expired, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql expired reviews: %w", err)
	}
	return expired, nil
}

// ResolveReview transitions a pending review to its final status. The WHERE
// status='pending' clause is the compare-and-set; because the update always
// changes status, a matched row always reports as affected.
func (m *MySQLStore[S]) ResolveReview(ctx context.Context, id string, res Resolution) error {
	if err := m.guard(); err != nil {
		return err
	}

	editsJSON, err := marshalEdits(res.Edits)
	if err != nil {
		return fmt.Errorf("mysql resolve review: %w", err)
	}

	const q = `
UPDATE reviews SET status = ?, feedback = ?, edits = ?, resolved_at = ?
WHERE id = ? AND status = 'pending'`

	result, err := m.db.ExecContext(ctx, q,
		string(res.Status), res.Feedback, editsJSON, res.At.UTC(), id)
	if err != nil {
		return fmt.Errorf("mysql resolve review: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql resolve review: %w", err)
	}
	if affected == 0 {
		if _, err := m.GetReview(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

// Ping verifies database connectivity. Useful for health checks.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics for monitoring.
func (m *MySQLStore[S]) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Stats()
}

// Close closes the connection pool. Safe to call more than once.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *MySQLStore[S]) guard() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func (m *MySQLStore[S]) scanCheckpoint(row rowScanner) (Checkpoint[S], error) {
	var (
		cp        Checkpoint[S]
		stateJSON []byte
	)
	if err := row.Scan(&cp.RunID, &cp.Seq, &cp.Node, &cp.Next, &cp.Done, &cp.Suspended, &stateJSON, &cp.Digest, &cp.At); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return cp, nil
}

func (m *MySQLStore[S]) scanReview(row rowScanner) (Review[S], error) {
	var (
		review     Review[S]
		status     string
		stateJSON  []byte
		editsJSON  string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&review.ID, &review.RunID, &review.Node, &stateJSON, &status, &review.Feedback, &editsJSON, &review.CreatedAt, &review.TimeoutAt, &resolvedAt); err != nil {
		return Review[S]{}, err
	}
	if err := json.Unmarshal(stateJSON, &review.State); err != nil {
		return Review[S]{}, fmt.Errorf("unmarshal state: %w", err)
	}
	edits, err := unmarshalEdits(editsJSON)
	if err != nil {
		return Review[S]{}, err
	}
	review.Edits = edits
	review.Status = ReviewStatus(status)
	if resolvedAt.Valid {
		review.ResolvedAt = resolvedAt.Time
	}
	return review, nil
}
