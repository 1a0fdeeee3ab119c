// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/executor"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Schema creates the audit tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS fill_batches (
    id          UUID PRIMARY KEY,
    page_url    TEXT NOT NULL,
    filled      INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS fill_audit (
    id          UUID PRIMARY KEY,
    batch_id    UUID NOT NULL REFERENCES fill_batches (id),
    position    INTEGER NOT NULL,
    page_url    TEXT NOT NULL,
    exam        TEXT NOT NULL,
    field       TEXT NOT NULL,
    prev_value  TEXT NOT NULL,
    new_value   TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    error       TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fill_audit_page_url_idx ON fill_audit (page_url, recorded_at);
`

const sqlInsertBatch = `
        INSERT INTO fill_batches (id, page_url, filled, failed, recorded_at)
        VALUES ($1, $2, $3, $4, $5);
    `

const sqlHistory = `
        SELECT batch_id, position, page_url, exam, field, prev_value, new_value, outcome, error, recorded_at
        FROM fill_audit
        WHERE page_url = $1
        ORDER BY recorded_at DESC, position ASC
        LIMIT $2;
    `

var auditColumns = []string{"id", "batch_id", "position", "page_url", "exam", "field", "prev_value", "new_value", "outcome", "error", "recorded_at"}

// Entry is one stored field mutation.
type Entry struct {
	BatchID    string    `json:"batch_id"`
	Position   int       `json:"position"`
	PageURL    string    `json:"page_url"`
	Exam       string    `json:"exam,omitempty"`
	Field      string    `json:"field"`
	Prev       string    `json:"prev"`
	New        string    `json:"new"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the Postgres audit trail of fills. It implements executor.AuditSink.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ executor.AuditSink = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Connect opens a pool for url and wraps it in a Store.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema creates the audit tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// RecordMutations stores one batch of fills, successful or not, in a single
// transaction.
func (s *Store) RecordMutations(ctx context.Context, pageURL string, mutations []executor.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batchID := uuid.NewString()
	recordedAt := s.now()
	filled := 0
	for _, m := range mutations {
		if m.Outcome == executor.OutcomeSuccess {
			filled++
		}
	}
	if _, err := tx.Exec(ctx, sqlInsertBatch, batchID, pageURL, filled, len(mutations)-filled, recordedAt); err != nil {
		return fmt.Errorf("failed to insert fill batch: %w", err)
	}

	rows := make([][]interface{}, len(mutations))
	for i, m := range mutations {
		rows[i] = []interface{}{
			uuid.NewString(), batchID, i, pageURL,
			m.Exam, m.Field, m.Prev, m.New,
			string(m.Outcome), m.Error, recordedAt,
		}
	}
	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"fill_audit"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy fill audit rows: %w", err)
	}
	if int(copyCount) != len(mutations) {
		return fmt.Errorf("mismatch in copied audit rows: expected %d, got %d", len(mutations), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History returns the most recent mutations recorded for a page, newest batch first.
func (s *Store) History(ctx context.Context, pageURL string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlHistory, pageURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fill history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.BatchID, &e.Position, &e.PageURL, &e.Exam, &e.Field, &e.Prev, &e.New, &e.Outcome, &e.Error, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill audit row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}
