package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagecraft/stagecraft/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		runID string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded deployment runs",
		Long: `Show the run journal: recent deployment runs, or one run's full
phase-event timeline with --run.

The journal records every run except dry runs, including the decision
taken after each failure, so the full history of a deployment can be
reconstructed later.`,
		Example: `  # Recent runs, newest first
  stagecraft history

  # Full event timeline for one run
  stagecraft history --run 7d8f2c1a-4b6e-4f0a-9c3d-2e1f0a9b8c7d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger()
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx)

			journal, err := openJournal(ctx, filepath.Join(resolveStateDir(), journalFileName))
			if err != nil {
				return err
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if runID != "" {
				return renderRunDetail(ctx, out, journal, runID)
			}
			return renderRunList(ctx, out, journal, limit)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the event timeline for one run ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func renderRunList(ctx context.Context, w io.Writer, journal *stores.SQLiteJournal, limit int) error {
	runs, err := journal.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		return nil
	}

	for _, run := range runs {
		elapsed := "running"
		if run.CompletedAt != nil {
			elapsed = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s  %-16s %-12s %s  %s\n",
			run.ID, run.Mode, run.Status,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"), elapsed)
		if run.Error != "" {
			fmt.Fprintf(w, "%36s  %s\n", "", run.Error)
		}
	}
	return nil
}

func renderRunDetail(ctx context.Context, w io.Writer, journal *stores.SQLiteJournal, runID string) error {
	run, err := journal.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	events, err := journal.ListPhaseEvents(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  mode:    %s\n", run.Mode)
	fmt.Fprintf(w, "  status:  %s\n", run.Status)
	fmt.Fprintf(w, "  started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  ended:   %s\n", run.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  error:   %s\n", run.Error)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "  no phase events recorded")
		return nil
	}
	fmt.Fprintln(w)
	for _, ev := range events {
		phase := ev.PhaseID
		if phase == "" {
			phase = "-"
		}
		fmt.Fprintf(w, "  %s  %-10s %-10s %s\n",
			ev.CreatedAt.Local().Format("15:04:05"), phase, ev.Action, ev.Detail)
	}
	return nil
}
