package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docketwatch/searchstream/internal/progress"
	"github.com/docketwatch/searchstream/internal/store"
)

// HistorySink persists watch outcomes via a store.HistoryRepository: the
// first frame of a job opens a running watch, settled units are recorded
// individually, and terminal stages close the watch.
type HistorySink struct {
	repo   store.HistoryRepository
	logger *zap.Logger

	mu    sync.Mutex
	found map[string]int64
}

// NewHistorySink constructs a HistorySink for the provided repository.
func NewHistorySink(repo store.HistoryRepository, logger *zap.Logger) *HistorySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{repo: repo, logger: logger, found: make(map[string]int64)}
}

// Consume forwards watch lifecycle changes to the repository. Repository
// errors abort the batch so the hub can log them.
func (s *HistorySink) Consume(ctx context.Context, batch []progress.Update) error {
	if s == nil || s.repo == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, upd := range batch {
		if err := s.consumeUpdate(ctx, upd); err != nil {
			return err
		}
	}
	return nil
}

func (s *HistorySink) consumeUpdate(ctx context.Context, upd progress.Update) error {
	evt := upd.Event
	if _, ok := s.found[upd.JobID]; !ok {
		s.found[upd.JobID] = 0
		if err := s.repo.UpsertWatchStart(ctx, upd.JobID, upd.At); err != nil {
			return fmt.Errorf("upsert watch start: %w", err)
		}
	}

	switch evt.Stage {
	case progress.StageUnitStatus:
		d := evt.UnitStatus
		if !d.Status.Settled() {
			return nil
		}
		if d.Status.Found() {
			s.found[upd.JobID] += int64(d.Count)
		}
		res := store.UnitResult{
			JobID:     upd.JobID,
			Unit:      d.Unit,
			Status:    string(d.Status),
			Count:     int64(d.Count),
			Attempt:   d.Attempt,
			UpdatedAt: upd.At,
		}
		if err := s.repo.UpsertUnitResult(ctx, res); err != nil {
			return fmt.Errorf("upsert unit result: %w", err)
		}
	case progress.StageComplete, progress.StageError, progress.StageDegraded, progress.StageRefreshAvailable:
		return s.closeWatch(ctx, upd)
	}
	return nil
}

func (s *HistorySink) closeWatch(ctx context.Context, upd progress.Update) error {
	evt := upd.Event
	status := watchStatusFor(evt.Stage)
	var message *string
	if evt.Message != "" {
		msg := evt.Message
		message = &msg
	}
	var degradedReason *string
	if evt.Degraded != nil && evt.Degraded.Reason != "" {
		reason := evt.Degraded.Reason
		degradedReason = &reason
	}
	items := s.found[upd.JobID]
	delete(s.found, upd.JobID)
	if err := s.repo.CompleteWatch(ctx, upd.JobID, upd.At, status, message, items, degradedReason); err != nil {
		return fmt.Errorf("complete watch: %w", err)
	}
	return nil
}

// RecordUnavailable closes the watch after retry exhaustion. A job whose
// stream never delivered a frame has no watch row yet, so one is created
// first; the outcome stays visible in history either way.
func (s *HistorySink) RecordUnavailable(ctx context.Context, jobID string, at time.Time) error {
	if s == nil || s.repo == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.found[jobID]; !ok {
		if err := s.repo.UpsertWatchStart(ctx, jobID, at); err != nil {
			return fmt.Errorf("upsert watch start: %w", err)
		}
		s.found[jobID] = 0
	}
	items := s.found[jobID]
	delete(s.found, jobID)
	if err := s.repo.CompleteWatch(ctx, jobID, at, store.WatchUnavailable, nil, items, nil); err != nil {
		return fmt.Errorf("complete watch: %w", err)
	}
	return nil
}

func watchStatusFor(stage progress.Stage) store.WatchStatus {
	switch stage {
	case progress.StageComplete:
		return store.WatchComplete
	case progress.StageError:
		return store.WatchError
	case progress.StageDegraded:
		return store.WatchDegraded
	case progress.StageRefreshAvailable:
		return store.WatchRefresh
	}
	return store.WatchRunning
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
