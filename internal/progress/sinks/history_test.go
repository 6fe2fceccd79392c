package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docketwatch/searchstream/internal/progress"
	"github.com/docketwatch/searchstream/internal/store"
)

// TestHistorySinkRecordsLifecycle walks a job from first frame to complete.
func TestHistorySinkRecordsLifecycle(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	sink := NewHistorySink(repo, nil)

	start := time.Unix(1700000000, 0).UTC()
	finish := start.Add(30 * time.Second)
	batch := []progress.Update{
		{JobID: "abc", At: start, Event: progress.Event{Stage: progress.StageFetching, Progress: 10}},
		{JobID: "abc", At: start.Add(time.Second), Event: progress.Event{
			Stage:      progress.StageUnitStatus,
			UnitStatus: &progress.UnitStatusDetail{Unit: "SC", Status: progress.UnitSuccess, Count: 10},
		}},
		{JobID: "abc", At: start.Add(2 * time.Second), Event: progress.Event{
			Stage:      progress.StageUnitStatus,
			UnitStatus: &progress.UnitStatusDetail{Unit: "PR", Status: progress.UnitFetching},
		}},
		{JobID: "abc", At: start.Add(3 * time.Second), Event: progress.Event{
			Stage:      progress.StageUnitStatus,
			UnitStatus: &progress.UnitStatusDetail{Unit: "PR", Status: progress.UnitRecovered, Count: 5, Attempt: 2},
		}},
		{JobID: "abc", At: finish, Event: progress.Event{Stage: progress.StageComplete, Progress: 100, Message: "done"}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"abc"}, repo.started)
	// Only settled units are recorded; PR appears once, after recovery.
	require.Len(t, repo.units, 2)
	require.Equal(t, "SC", repo.units[0].Unit)
	require.Equal(t, "PR", repo.units[1].Unit)
	require.Equal(t, int64(5), repo.units[1].Count)
	require.Equal(t, 2, repo.units[1].Attempt)

	require.Len(t, repo.completed, 1)
	done := repo.completed[0]
	require.Equal(t, store.WatchComplete, done.status)
	require.Equal(t, int64(15), done.itemsFound)
	require.Equal(t, finish, done.finishedAt)
	require.NotNil(t, done.message)
	require.Equal(t, "done", *done.message)
	require.Nil(t, done.degradedReason)
}

func TestHistorySinkDegradedOutcome(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	sink := NewHistorySink(repo, nil)

	now := time.Now()
	batch := []progress.Update{
		{JobID: "j2", At: now, Event: progress.Event{
			Stage:    progress.StageDegraded,
			Degraded: &progress.DegradedDetail{Reason: "stale_cache", CacheAgeHours: 6},
		}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.completed, 1)
	require.Equal(t, store.WatchDegraded, repo.completed[0].status)
	require.NotNil(t, repo.completed[0].degradedReason)
	require.Equal(t, "stale_cache", *repo.completed[0].degradedReason)
}

// TestHistorySinkRecordsUnavailable covers retry exhaustion: the watch is
// closed as unavailable, and a never-streamed job still gets a row.
func TestHistorySinkRecordsUnavailable(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	sink := NewHistorySink(repo, nil)
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, sink.RecordUnavailable(context.Background(), "never-streamed", now))
	require.Equal(t, []string{"never-streamed"}, repo.started)
	require.Len(t, repo.completed, 1)
	require.Equal(t, store.WatchUnavailable, repo.completed[0].status)
	require.Zero(t, repo.completed[0].itemsFound)

	// A job that streamed some results before the transport died keeps its
	// accumulated count.
	require.NoError(t, sink.Consume(context.Background(), []progress.Update{
		{JobID: "j3", At: now, Event: progress.Event{
			Stage:      progress.StageUnitStatus,
			UnitStatus: &progress.UnitStatusDetail{Unit: "SC", Status: progress.UnitSuccess, Count: 4},
		}},
	}))
	require.NoError(t, sink.RecordUnavailable(context.Background(), "j3", now.Add(time.Minute)))
	require.Len(t, repo.completed, 2)
	require.Equal(t, store.WatchUnavailable, repo.completed[1].status)
	require.Equal(t, int64(4), repo.completed[1].itemsFound)
}

func TestHistorySinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewHistorySink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Update{
		{JobID: "x", At: time.Now(), Event: progress.Event{Stage: progress.StageComplete}},
	}))
}

type completedWatch struct {
	jobID          string
	finishedAt     time.Time
	status         store.WatchStatus
	message        *string
	itemsFound     int64
	degradedReason *string
}

type fakeRepo struct {
	started   []string
	units     []store.UnitResult
	completed []completedWatch
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{}
}

func (r *fakeRepo) UpsertWatchStart(_ context.Context, jobID string, _ time.Time) error {
	r.started = append(r.started, jobID)
	return nil
}

func (r *fakeRepo) CompleteWatch(_ context.Context, jobID string, finishedAt time.Time, status store.WatchStatus, message *string, itemsFound int64, degradedReason *string) error {
	r.completed = append(r.completed, completedWatch{
		jobID:          jobID,
		finishedAt:     finishedAt,
		status:         status,
		message:        message,
		itemsFound:     itemsFound,
		degradedReason: degradedReason,
	})
	return nil
}

func (r *fakeRepo) UpsertUnitResult(_ context.Context, res store.UnitResult) error {
	r.units = append(r.units, res)
	return nil
}

func (r *fakeRepo) GetWatch(context.Context, string) (store.WatchRecord, error) {
	return store.WatchRecord{}, store.ErrNotFound
}

func (r *fakeRepo) ListWatches(context.Context, *store.WatchStatus, int, int) ([]store.WatchRecord, error) {
	return nil, nil
}

func (r *fakeRepo) ListUnitResults(context.Context, string) ([]store.UnitResult, error) {
	return nil, nil
}
