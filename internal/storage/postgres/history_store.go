// Package postgres provides the Postgres-backed watch history store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docketwatch/searchstream/internal/store"
)

// querier is the subset of pgxpool.Pool the store needs; pgxmock pools
// satisfy it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// HistoryStore implements store.HistoryRepository on Postgres.
type HistoryStore struct {
	db      querier
	closeFn func()
}

// NewHistoryStore connects a pgx pool from the DSN.
func NewHistoryStore(ctx context.Context, dsn string) (*HistoryStore, error) {
	if dsn == "" {
		return nil, errors.New("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &HistoryStore{db: pool, closeFn: pool.Close}, nil
}

// NewHistoryStoreWithPool wraps an existing pool or mock.
func NewHistoryStoreWithPool(db querier) *HistoryStore {
	return &HistoryStore{db: db}
}

// Close releases the underlying connection pool, when owned.
func (s *HistoryStore) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// UpsertWatchStart inserts a running watch, refreshing started_at on
// repeat subscriptions to the same job.
func (s *HistoryStore) UpsertWatchStart(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
		INSERT INTO job_watches (job_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
		    status = EXCLUDED.status,
		    finished_at = NULL;
	`
	if _, err := s.db.Exec(ctx, query, jobID, startedAt, store.WatchRunning); err != nil {
		return fmt.Errorf("upsert watch start: %w", err)
	}
	return nil
}

// CompleteWatch marks the watch finished with its terminal outcome.
func (s *HistoryStore) CompleteWatch(
	ctx context.Context,
	jobID string,
	finishedAt time.Time,
	status store.WatchStatus,
	message *string,
	itemsFound int64,
	degradedReason *string,
) error {
	query := `
		UPDATE job_watches
		SET finished_at = $1, status = $2, message = $3,
		    items_found = $4, degraded_reason = $5
		WHERE job_id = $6;
	`
	if _, err := s.db.Exec(ctx, query, finishedAt, status, message, itemsFound, degradedReason, jobID); err != nil {
		return fmt.Errorf("complete watch: %w", err)
	}
	return nil
}

// UpsertUnitResult records the final state of one unit within a job.
func (s *HistoryStore) UpsertUnitResult(ctx context.Context, res store.UnitResult) error {
	query := `
		INSERT INTO unit_results (job_id, unit, status, count, attempt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, unit) DO UPDATE
		SET status = EXCLUDED.status,
		    count = EXCLUDED.count,
		    attempt = EXCLUDED.attempt,
		    updated_at = EXCLUDED.updated_at;
	`
	_, err := s.db.Exec(ctx, query,
		res.JobID, res.Unit, res.Status, res.Count, res.Attempt, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert unit result: %w", err)
	}
	return nil
}

// GetWatch loads a single watch or returns store.ErrNotFound.
func (s *HistoryStore) GetWatch(ctx context.Context, jobID string) (store.WatchRecord, error) {
	query := `
		SELECT job_id, started_at, finished_at, status, message, items_found, degraded_reason
		FROM job_watches
		WHERE job_id = $1;
	`
	row := s.db.QueryRow(ctx, query, jobID)
	var rec store.WatchRecord
	err := row.Scan(&rec.JobID, &rec.StartedAt, &rec.FinishedAt, &rec.Status,
		&rec.Message, &rec.ItemsFound, &rec.DegradedReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.WatchRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.WatchRecord{}, fmt.Errorf("get watch: %w", err)
	}
	return rec, nil
}

// ListWatches returns watches, optionally filtered by status, newest first.
func (s *HistoryStore) ListWatches(ctx context.Context, status *store.WatchStatus, limit, offset int) ([]store.WatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT job_id, started_at, finished_at, status, message, items_found, degraded_reason
		FROM job_watches
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	var out []store.WatchRecord
	for rows.Next() {
		var rec store.WatchRecord
		if err := rows.Scan(&rec.JobID, &rec.StartedAt, &rec.FinishedAt, &rec.Status,
			&rec.Message, &rec.ItemsFound, &rec.DegradedReason); err != nil {
			return nil, fmt.Errorf("scan watch row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watches: %w", err)
	}
	return out, nil
}

// ListUnitResults returns recorded unit results for a job.
func (s *HistoryStore) ListUnitResults(ctx context.Context, jobID string) ([]store.UnitResult, error) {
	query := `
		SELECT job_id, unit, status, count, attempt, updated_at
		FROM unit_results
		WHERE job_id = $1
		ORDER BY unit;
	`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list unit results: %w", err)
	}
	defer rows.Close()

	var out []store.UnitResult
	for rows.Next() {
		var res store.UnitResult
		if err := rows.Scan(&res.JobID, &res.Unit, &res.Status, &res.Count, &res.Attempt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unit result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit results: %w", err)
	}
	return out, nil
}
