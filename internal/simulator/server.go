// Package simulator serves a scripted search-progress stream over SSE. It
// backs the `serve` command and the client's end-to-end tests, standing in
// for the real search backend.
package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/docketwatch/searchstream/internal/progress"
)

// Step is one scripted frame plus the pause before it is sent.
type Step struct {
	Delay time.Duration
	// Name optionally routes the frame to a named SSE channel
	// (uf_status, batch_progress); empty uses the default channel.
	Name  string
	Event progress.Event
}

// ScriptFunc produces the frame sequence for a job. The default script is
// used when nil.
type ScriptFunc func(jobID string) []Step

// Server streams scripted progress events.
type Server struct {
	router chi.Router
	script ScriptFunc
	logger *zap.Logger

	streamsServed prometheus.Counter
}

// NewServer builds the router. A nil script serves DefaultScript; a nil
// registry uses the Prometheus default.
func NewServer(script ScriptFunc, logger *zap.Logger, reg prometheus.Registerer) (*Server, error) {
	if script == nil {
		script = DefaultScript
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Server{
		script: script,
		logger: logger,
		streamsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_streams_served_total",
			Help: "Progress streams served.",
		}),
	}
	if err := reg.Register(s.streamsServed); err != nil {
		return nil, fmt.Errorf("register simulator collector: %w", err)
	}
	rm, err := newRequestMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register request collectors: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(rm.middleware)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/progress", s.streamProgress)
	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	s.streamsServed.Inc()
	s.logger.Info("streaming scripted progress", zap.String("job_id", jobID))

	for _, step := range s.script(jobID) {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if err := writeFrame(w, step); err != nil {
			s.logger.Warn("stream write failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		flusher.Flush()
		if step.Event.Stage.Terminal() {
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, step Step) error {
	data, err := json.Marshal(step.Event)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if step.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", step.Name); err != nil {
			return fmt.Errorf("write event name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame data: %w", err)
	}
	return nil
}

// DefaultScript walks two regions through fetch, one retry recovery, a
// partial snapshot, and completion. Delays are short so demos stay snappy.
func DefaultScript(jobID string) []Step {
	tick := 200 * time.Millisecond
	unit := func(u string, st progress.UnitState, count, attempt int, pct float64) Step {
		return Step{
			Delay: tick,
			Name:  string(progress.StageUnitStatus),
			Event: progress.Event{
				Stage:      progress.StageUnitStatus,
				Progress:   pct,
				UnitStatus: &progress.UnitStatusDetail{Unit: u, Status: st, Count: count, Attempt: attempt},
			},
		}
	}
	return []Step{
		{Event: progress.Event{Stage: progress.StageConnecting, Progress: 0, Message: "connecting to search backend"}},
		{Delay: tick, Event: progress.Event{Stage: progress.StageFetching, Progress: 10, Message: "searching records"}},
		{Delay: tick, Name: string(progress.StageBatchProgress), Event: progress.Event{
			Stage:    progress.StageBatchProgress,
			Progress: 15,
			Batch:    &progress.BatchDetail{BatchNum: 1, TotalBatches: 1, Units: []string{"SC", "PR"}},
		}},
		unit("SC", progress.UnitFetching, 0, 0, 20),
		unit("PR", progress.UnitFetching, 0, 0, 25),
		unit("SC", progress.UnitSuccess, 10, 0, 50),
		unit("PR", progress.UnitRetrying, 0, 1, 55),
		{Delay: tick, Event: progress.Event{
			Stage:    progress.StagePartialResults,
			Progress: 70,
			Message:  "partial results available",
			Partial:  &progress.PartialDetail{NewCount: 10, TotalSoFar: 10, UnitsCompleted: 1, UnitsPending: 1},
		}},
		unit("PR", progress.UnitRecovered, 5, 1, 90),
		{Delay: tick, Event: progress.Event{Stage: progress.StageComplete, Progress: 100, Message: "search complete"}},
	}
}
