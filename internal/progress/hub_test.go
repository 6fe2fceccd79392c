package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHubFlushBySize verifies the hub flushes once the batch limit fills.
func TestHubFlushBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{BufferSize: 8, MaxBatch: 2, MaxWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	upd := sampleUpdate(StageFetching)
	hub.Publish(upd)
	hub.Publish(upd)

	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubFlushByTimer verifies the ticker flush kicks in for small batches.
func TestHubFlushByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{BufferSize: 4, MaxBatch: 10, MaxWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Publish(sampleUpdate(StageFetching))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubDropsInvalidUpdates ensures invalid frames never reach sinks.
func TestHubDropsInvalidUpdates(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{MaxWait: 10 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Publish(Update{JobID: "abc", At: time.Now(), Event: Event{Stage: "warp_drive"}})
	hub.Publish(sampleUpdate(StageComplete))

	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 1 && batches[0][0].Event.Stage == StageComplete
	}, time.Second, 5*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains buffered updates before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{BufferSize: 4, MaxBatch: 100, MaxWait: time.Minute}, sink)

	hub.Publish(sampleUpdate(StageComplete))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.closed)
}

func sampleUpdate(stage Stage) Update {
	return Update{JobID: "job-1", At: time.Now(), Event: Event{Stage: stage, Progress: 50}}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Update
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Update(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Update, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Update(nil), b...)
	}
	return out
}
