// Package sinks provides progress.Sink implementations that observe the
// consumed stream: structured logs, Prometheus metrics, and watch history.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/docketwatch/searchstream/internal/progress"
)

// LogSink emits a structured log line per consumed update. Useful during
// development and when following a job from the CLI.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each update using stage-appropriate fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Update) error {
	for _, upd := range batch {
		evt := upd.Event
		fields := []zap.Field{
			zap.String("job_id", upd.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Float64("progress", evt.Progress),
		}
		if evt.Message != "" {
			fields = append(fields, zap.String("message", evt.Message))
		}
		switch {
		case evt.UnitStatus != nil:
			fields = append(fields,
				zap.String("unit", evt.UnitStatus.Unit),
				zap.String("unit_status", string(evt.UnitStatus.Status)),
				zap.Int("count", evt.UnitStatus.Count))
		case evt.Batch != nil:
			fields = append(fields,
				zap.Int("batch", evt.Batch.BatchNum),
				zap.Int("total_batches", evt.Batch.TotalBatches))
		case evt.Partial != nil:
			fields = append(fields,
				zap.Int("total_so_far", evt.Partial.TotalSoFar),
				zap.Int("units_pending", evt.Partial.UnitsPending))
		case evt.Refresh != nil:
			fields = append(fields,
				zap.Int("total_live", evt.Refresh.TotalLive),
				zap.Int("new_count", evt.Refresh.NewCount))
		case evt.Degraded != nil:
			fields = append(fields,
				zap.String("reason", evt.Degraded.Reason),
				zap.Float64("cache_age_hours", evt.Degraded.CacheAgeHours))
		case evt.Err != nil:
			fields = append(fields, zap.String("reason", evt.Err.Reason))
		}
		s.logger.Info("search progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
