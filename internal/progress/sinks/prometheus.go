package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docketwatch/searchstream/internal/progress"
)

// PrometheusSink exports search-progress metrics. It owns all collectors
// for events consumed, unit settlements, terminal outcomes, and items found.
type PrometheusSink struct {
	eventsTotal  *prometheus.CounterVec
	unitsSettled *prometheus.CounterVec
	jobsTerminal *prometheus.CounterVec
	jobsWatching prometheus.Gauge
	itemsFound   prometheus.Counter

	tracker *watchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchstream_events_total",
			Help: "Stream events consumed, partitioned by stage.",
		}, []string{"stage"}),
		unitsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchstream_units_settled_total",
			Help: "Work units reaching a final state, partitioned by status.",
		}, []string{"status"}),
		jobsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchstream_jobs_terminal_total",
			Help: "Jobs reaching a terminal stage, partitioned by outcome.",
		}, []string{"outcome"}),
		jobsWatching: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "searchstream_jobs_watching",
			Help: "Jobs currently being followed.",
		}),
		itemsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "searchstream_items_found_total",
			Help: "Items reported by settled units.",
		}),
		tracker: newWatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.eventsTotal,
		s.unitsSettled,
		s.jobsTerminal,
		s.jobsWatching,
		s.itemsFound,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Update) error {
	for _, upd := range batch {
		s.consumeUpdate(upd)
	}
	return nil
}

func (s *PrometheusSink) consumeUpdate(upd progress.Update) {
	evt := upd.Event
	s.eventsTotal.WithLabelValues(string(evt.Stage)).Inc()

	if s.tracker.seen(upd.JobID) {
		s.jobsWatching.Inc()
	}

	if evt.Stage == progress.StageUnitStatus && evt.UnitStatus.Status.Settled() {
		s.unitsSettled.WithLabelValues(string(evt.UnitStatus.Status)).Inc()
		if evt.UnitStatus.Status.Found() && evt.UnitStatus.Count > 0 {
			s.itemsFound.Add(float64(evt.UnitStatus.Count))
		}
	}

	if evt.Stage.Terminal() {
		s.jobsTerminal.WithLabelValues(string(evt.Stage)).Inc()
		if s.tracker.finish(upd.JobID) {
			s.jobsWatching.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// watchTracker keeps the watching gauge honest across repeated frames for
// the same job.
type watchTracker struct {
	mu      sync.Mutex
	watched map[string]struct{}
}

func newWatchTracker() *watchTracker {
	return &watchTracker{watched: make(map[string]struct{})}
}

// seen reports true the first time a job id appears.
func (t *watchTracker) seen(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watched[jobID]; ok {
		return false
	}
	t.watched[jobID] = struct{}{}
	return true
}

// finish reports true the first time a watched job terminates.
func (t *watchTracker) finish(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watched[jobID]; !ok {
		return false
	}
	delete(t.watched, jobID)
	return true
}
