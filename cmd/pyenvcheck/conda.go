package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
	"github.com/frederic-klein/pyenvcheck/internal/conda"
)

func condaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conda",
		Short: "Manage discovered conda environments",
	}
	cmd.PersistentFlags().StringVar(&condaExe, "conda", "", "Conda executable to use")

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Rediscover conda environments and update the cache",
		Args:  cobra.NoArgs,
		RunE:  runCondaRefresh,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached conda environments",
		Args:  cobra.NoArgs,
		RunE:  runCondaList,
	})
	return cmd
}

func runCondaRefresh(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res := a.discoverer().Discover(ctx, a.discoveryOptions(true))
	if res.State == conda.Failed {
		return res.Err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d conda environment(s) using %s\n", len(res.Environments), res.Executable)
	if res.Err != nil {
		fmt.Fprintf(out, "Warning: %v\n", res.Err)
	}
	return nil
}

func runCondaList(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	doc := a.cache.Document()
	out := cmd.OutOrStdout()
	if doc.CondaExecutable == "" && len(doc.Environments) == 0 {
		fmt.Fprintln(out, `No conda environments cached. Run "pyenvcheck conda refresh".`)
		return nil
	}

	refreshed := "never"
	if !doc.LastRefreshed.IsZero() {
		refreshed = humanize.RelTime(doc.LastRefreshed, time.Now(), "ago", "from now")
	}
	fmt.Fprintf(out, "Conda: %s (refreshed %s)\n", doc.CondaExecutable, refreshed)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tINTERPRETER")
	for _, label := range cache.Labels(doc.Environments) {
		fmt.Fprintf(tw, "%s\t%s\n", label, doc.Environments[label])
	}
	return tw.Flush()
}
