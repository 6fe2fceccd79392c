package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docketwatch/searchstream/internal/store"
)

func strPtr(s string) *string { return &s }

func sampleWatch() store.WatchRecord {
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(30 * time.Second)
	return store.WatchRecord{
		JobID:      "abc",
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     store.WatchComplete,
		Message:    strPtr("done"),
		ItemsFound: 15,
	}
}

func TestPrintWatches(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	printWatches(&out, []store.WatchRecord{sampleWatch()})

	got := out.String()
	require.Contains(t, got, "JOB")
	require.Contains(t, got, "abc")
	require.Contains(t, got, "complete")
	require.Contains(t, got, "15")
	require.Contains(t, got, "2023-11-14T22:13:50Z")
}

func TestShowWatchWithUnits(t *testing.T) {
	t.Parallel()

	repo := &stubHistoryRepo{
		watch: sampleWatch(),
		units: []store.UnitResult{
			{JobID: "abc", Unit: "SC", Status: "success", Count: 10, UpdatedAt: time.Unix(1700000010, 0).UTC()},
			{JobID: "abc", Unit: "PR", Status: "recovered", Count: 5, Attempt: 1, UpdatedAt: time.Unix(1700000020, 0).UTC()},
		},
	}

	var out strings.Builder
	require.NoError(t, showWatch(context.Background(), &out, repo, "abc"))

	got := out.String()
	require.Contains(t, got, "message: done")
	require.Contains(t, got, "SC")
	require.Contains(t, got, "recovered")
	require.Contains(t, got, "UNIT")
}

func TestShowWatchNotFound(t *testing.T) {
	t.Parallel()

	repo := &stubHistoryRepo{missing: true}

	var out strings.Builder
	err := showWatch(context.Background(), &out, repo, "ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no watch recorded")
}

type stubHistoryRepo struct {
	watch   store.WatchRecord
	units   []store.UnitResult
	missing bool
}

func (r *stubHistoryRepo) UpsertWatchStart(context.Context, string, time.Time) error { return nil }

func (r *stubHistoryRepo) CompleteWatch(context.Context, string, time.Time, store.WatchStatus, *string, int64, *string) error {
	return nil
}

func (r *stubHistoryRepo) UpsertUnitResult(context.Context, store.UnitResult) error { return nil }

func (r *stubHistoryRepo) GetWatch(context.Context, string) (store.WatchRecord, error) {
	if r.missing {
		return store.WatchRecord{}, store.ErrNotFound
	}
	return r.watch, nil
}

func (r *stubHistoryRepo) ListWatches(context.Context, *store.WatchStatus, int, int) ([]store.WatchRecord, error) {
	return []store.WatchRecord{r.watch}, nil
}

func (r *stubHistoryRepo) ListUnitResults(context.Context, string) ([]store.UnitResult, error) {
	return r.units, nil
}
