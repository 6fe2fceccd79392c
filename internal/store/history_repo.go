// Package store declares interfaces for persisting watched-job history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("watch record not found")

// WatchStatus mirrors the job_watches status column.
type WatchStatus string

// Watch outcomes persisted in job_watches.status.
const (
	WatchRunning     WatchStatus = "running"
	WatchComplete    WatchStatus = "complete"
	WatchError       WatchStatus = "error"
	WatchDegraded    WatchStatus = "degraded"
	WatchRefresh     WatchStatus = "refresh_available"
	WatchUnavailable WatchStatus = "unavailable"
)

// WatchRecord models one followed search job and its terminal outcome.
type WatchRecord struct {
	// JobID is the opaque backend search identifier.
	JobID string
	// StartedAt captures when the subscription first saw the job.
	StartedAt time.Time
	// FinishedAt is nil until a terminal stage or unavailability.
	FinishedAt *time.Time
	// Status is running until the watch ends.
	Status WatchStatus
	// Message optionally stores the final event message.
	Message *string
	// ItemsFound is the derived total over settled units at close.
	ItemsFound int64
	// DegradedReason is set only for degraded outcomes.
	DegradedReason *string
}

// UnitResult records the final state of one work unit within a job.
type UnitResult struct {
	JobID     string
	Unit      string
	Status    string
	Count     int64
	Attempt   int
	UpdatedAt time.Time
}

// HistoryRepository persists watched jobs and their outcomes.
type HistoryRepository interface {
	// UpsertWatchStart inserts (or idempotently refreshes) a running watch.
	UpsertWatchStart(ctx context.Context, jobID string, startedAt time.Time) error
	// CompleteWatch marks the watch finished with its outcome.
	CompleteWatch(ctx context.Context, jobID string, finishedAt time.Time, status WatchStatus, message *string, itemsFound int64, degradedReason *string) error
	// UpsertUnitResult records a settled unit's final state.
	UpsertUnitResult(ctx context.Context, res UnitResult) error

	// GetWatch loads one watch or returns ErrNotFound.
	GetWatch(ctx context.Context, jobID string) (WatchRecord, error)
	// ListWatches returns watches filtered by optional status plus limit/offset.
	ListWatches(ctx context.Context, status *WatchStatus, limit, offset int) ([]WatchRecord, error)
	// ListUnitResults returns the recorded unit results for one job.
	ListUnitResults(ctx context.Context, jobID string) ([]UnitResult, error)
}
