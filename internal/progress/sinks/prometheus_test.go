package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/docketwatch/searchstream/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and the watching gauge
// track a full job lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Update{
		{JobID: "abc", At: now, Event: progress.Event{Stage: progress.StageFetching, Progress: 10}},
		{JobID: "abc", At: now, Event: progress.Event{
			Stage:      progress.StageUnitStatus,
			UnitStatus: &progress.UnitStatusDetail{Unit: "SC", Status: progress.UnitSuccess, Count: 10},
		}},
		{JobID: "abc", At: now, Event: progress.Event{
			Stage:      progress.StageUnitStatus,
			UnitStatus: &progress.UnitStatusDetail{Unit: "PR", Status: progress.UnitFetching},
		}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsWatching))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.eventsTotal.WithLabelValues("fetching")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.eventsTotal.WithLabelValues("uf_status")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.unitsSettled.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.unitsSettled.WithLabelValues("failed")))
	require.Equal(t, 10.0, testutil.ToFloat64(sink.itemsFound))

	terminal := []progress.Update{
		{JobID: "abc", At: now, Event: progress.Event{Stage: progress.StageComplete, Progress: 100}},
	}
	require.NoError(t, sink.Consume(context.Background(), terminal))

	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsWatching))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsTerminal.WithLabelValues("complete")))
}

// TestPrometheusSinkDegradedOutcome keeps degraded distinct from error.
func TestPrometheusSinkDegradedOutcome(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Update{
		{JobID: "j1", At: time.Now(), Event: progress.Event{
			Stage:    progress.StageDegraded,
			Degraded: &progress.DegradedDetail{Reason: "stale_cache"},
		}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsTerminal.WithLabelValues("degraded")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsTerminal.WithLabelValues("error")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
