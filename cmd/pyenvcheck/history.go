package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/frederic-klein/pyenvcheck/internal/history"
)

var historyLimit int

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded check runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if historyLimit < 1 {
		return fmt.Errorf("limit must be at least 1, got %d", historyLimit)
	}

	store, err := history.Open(ctx, a.cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d requirement(s)\n",
			shortID(run.ID), humanize.Time(run.StartedAt), run.Requirements, run.RequirementCount)
		for _, r := range run.Results {
			fmt.Fprintf(tw, "\t%s\t%.1f%%\tPython %s\n", r.Label, r.Compatibility, pythonOrUnknown(r.PythonVersion))
		}
	}
	return tw.Flush()
}

func pythonOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
