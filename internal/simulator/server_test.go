package simulator

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/docketwatch/searchstream/internal/progress"
	"github.com/docketwatch/searchstream/internal/stream"
)

func newTestServer(t *testing.T, script ScriptFunc) *httptest.Server {
	t.Helper()
	srv, err := NewServer(script, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestStreamProgressRequiresJobID(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/v1/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamProgressEmitsScript(t *testing.T) {
	t.Parallel()

	script := func(string) []Step {
		return []Step{
			{Event: progress.Event{Stage: progress.StageFetching, Progress: 10}},
			{Name: string(progress.StageUnitStatus), Event: progress.Event{
				Stage:      progress.StageUnitStatus,
				Progress:   50,
				UnitStatus: &progress.UnitStatusDetail{Unit: "SC", Status: progress.UnitSuccess, Count: 3},
			}},
			{Event: progress.Event{Stage: progress.StageComplete, Progress: 100}},
			// Never reached: the terminal stage ends the stream.
			{Event: progress.Event{Stage: progress.StageFetching, Progress: 0}},
		}
	}
	ts := newTestServer(t, script)

	resp, err := http.Get(ts.URL + "/v1/progress?job_id=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := stream.NewFrameReader(resp.Body)
	var names []string
	var events []progress.Event
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var evt progress.Event
		require.NoError(t, json.Unmarshal([]byte(frame.Data), &evt))
		names = append(names, frame.Name)
		events = append(events, evt)
	}

	require.Len(t, events, 3)
	require.Equal(t, progress.StageFetching, events[0].Stage)
	require.Equal(t, "uf_status", names[1])
	require.Equal(t, "SC", events[1].UnitStatus.Unit)
	require.Equal(t, progress.StageComplete, events[2].Stage)
}

// TestDefaultScriptDrivesClient wires the real client against the
// simulator end to end.
func TestDefaultScriptDrivesClient(t *testing.T) {
	t.Parallel()

	fast := func(jobID string) []Step {
		steps := DefaultScript(jobID)
		for i := range steps {
			steps[i].Delay = time.Millisecond
		}
		return steps
	}
	ts := newTestServer(t, fast)

	c, err := stream.New(stream.Options{Endpoint: ts.URL + "/v1/progress"})
	require.NoError(t, err)
	t.Cleanup(c.Stop)

	c.Start(t.Context(), stream.Subscription{
		JobID:   "demo",
		Units:   []string{"SC", "PR"},
		Enabled: true,
	})
	<-c.Done()

	snap := c.Snapshot()
	require.Equal(t, progress.StageComplete, snap.Current.Stage)
	require.Equal(t, 15, snap.TotalFound)
	require.True(t, snap.AllUnitsComplete)
	require.NotNil(t, snap.Partial)
	require.True(t, snap.Available)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
