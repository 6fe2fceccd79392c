package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docketwatch/searchstream/internal/storage/postgres"
	"github.com/docketwatch/searchstream/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		jobID  string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded watch outcomes from the history store.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cfg.DB.Enabled {
				return errors.New("history requires db.enabled and db.dsn to be configured")
			}
			ctx := cmd.Context()
			repo, err := postgres.NewHistoryStore(ctx, cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			defer repo.Close()

			if jobID != "" {
				return showWatch(ctx, cmd.OutOrStdout(), repo, jobID)
			}
			var filter *store.WatchStatus
			if status != "" {
				st := store.WatchStatus(status)
				filter = &st
			}
			recs, err := repo.ListWatches(ctx, filter, limit, 0)
			if err != nil {
				return fmt.Errorf("list watches: %w", err)
			}
			printWatches(cmd.OutOrStdout(), recs)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "show one job's watch and its unit results")
	cmd.Flags().StringVar(&status, "status", "", "filter by outcome (complete, error, degraded, refresh_available, unavailable)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum watches to list")
	return cmd
}

func showWatch(ctx context.Context, w io.Writer, repo store.HistoryRepository, jobID string) error {
	rec, err := repo.GetWatch(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no watch recorded for job %s", jobID)
	}
	if err != nil {
		return fmt.Errorf("get watch: %w", err)
	}
	units, err := repo.ListUnitResults(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list unit results: %w", err)
	}
	printWatchDetail(w, rec, units)
	return nil
}

func printWatches(w io.Writer, recs []store.WatchRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tSTARTED\tFINISHED\tITEMS")
	for _, rec := range recs {
		finished := "-"
		if rec.FinishedAt != nil {
			finished = rec.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			rec.JobID, rec.Status, rec.StartedAt.Format(time.RFC3339), finished, rec.ItemsFound)
	}
	tw.Flush()
}

func printWatchDetail(w io.Writer, rec store.WatchRecord, units []store.UnitResult) {
	printWatches(w, []store.WatchRecord{rec})
	if rec.Message != nil {
		fmt.Fprintf(w, "message: %s\n", *rec.Message)
	}
	if rec.DegradedReason != nil {
		fmt.Fprintf(w, "degraded reason: %s\n", *rec.DegradedReason)
	}
	if len(units) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATUS\tCOUNT\tATTEMPT\tUPDATED")
	for _, u := range units {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			u.Unit, u.Status, u.Count, u.Attempt, u.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}
