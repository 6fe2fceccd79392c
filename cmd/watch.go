package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docketwatch/searchstream/internal/progress"
	"github.com/docketwatch/searchstream/internal/progress/sinks"
	"github.com/docketwatch/searchstream/internal/storage/postgres"
	"github.com/docketwatch/searchstream/internal/stream"
)

func newWatchCmd() *cobra.Command {
	var (
		jobID    string
		units    []string
		token    string
		endpoint string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to one job's progress stream until it finishes.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if endpoint == "" {
				endpoint = cfg.Stream.Endpoint
			}

			hubSinks := []progress.Sink{sinks.NewLogSink(logger)}
			var historySink *sinks.HistorySink
			if cfg.DB.Enabled {
				history, err := postgres.NewHistoryStore(ctx, cfg.DB.DSN)
				if err != nil {
					return fmt.Errorf("open history store: %w", err)
				}
				defer history.Close()
				historySink = sinks.NewHistorySink(history, logger)
				hubSinks = append(hubSinks, historySink)
			}
			hub := progress.NewHub(progress.HubConfig{Logger: logger}, hubSinks...)
			closeHub := func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := hub.Close(closeCtx); err != nil {
					logger.Warn("hub close failed", zap.Error(err))
				}
			}
			defer closeHub()

			client, err := stream.New(stream.Options{
				Endpoint:   endpoint,
				RetryDelay: cfg.RetryDelay(),
				Publisher:  hub,
				Logger:     logger,
			})
			if err != nil {
				return fmt.Errorf("build stream client: %w", err)
			}
			defer client.Stop()

			client.SetCallbacks(stream.Callbacks{
				OnUnavailable: func() {
					logger.Warn("progress stream unavailable; switch to estimated progress",
						zap.String("job_id", jobID))
				},
			})

			client.Start(ctx, stream.Subscription{
				JobID:   jobID,
				Token:   token,
				Units:   units,
				Enabled: true,
			})

			select {
			case <-client.Done():
			case <-ctx.Done():
				return nil
			}

			snap := client.Snapshot()

			// Drain buffered frames before recording the final outcome, so
			// an unavailable close cannot be overwritten by a late batch.
			closeHub()
			if snap.Disconnected && historySink != nil {
				recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := historySink.RecordUnavailable(recCtx, jobID, time.Now()); err != nil {
					logger.Warn("record unavailable watch failed", zap.Error(err))
				}
			}
			summarize(snap, jobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "backend search job identifier (required)")
	cmd.Flags().StringSliceVar(&units, "unit", nil, "expected work units, e.g. region codes")
	cmd.Flags().StringVar(&token, "token", "", "bearer token, sent as a query parameter")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "progress stream URL (defaults to config)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func summarize(snap progress.Snapshot, jobID string) {
	fields := []zap.Field{
		zap.String("job_id", jobID),
		zap.Int("items_found", snap.TotalFound),
		zap.Bool("all_units_complete", snap.AllUnitsComplete),
		zap.Bool("degraded", snap.IsDegraded),
		zap.Bool("stream_available", snap.Available),
	}
	if snap.Current != nil {
		fields = append(fields, zap.String("final_stage", string(snap.Current.Stage)))
	}
	if snap.DegradedInfo != nil {
		fields = append(fields, zap.String("degraded_reason", snap.DegradedInfo.Reason))
	}
	if snap.Refresh != nil {
		fields = append(fields, zap.Int("refresh_new", snap.Refresh.NewCount))
	}
	logger.Info("watch finished", fields...)
}
