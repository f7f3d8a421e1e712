package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
)

func interpretersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "interpreters",
		Aliases: []string{"interp"},
		Short:   "Manage manually registered interpreters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add LABEL PATH",
		Short: "Register an interpreter under a label",
		Args:  cobra.ExactArgs(2),
		RunE:  runInterpretersAdd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove LABEL",
		Short: "Forget a registered interpreter",
		Args:  cobra.ExactArgs(1),
		RunE:  runInterpretersRemove,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered interpreters",
		Args:  cobra.NoArgs,
		RunE:  runInterpretersList,
	})
	return cmd
}

func runInterpretersAdd(cmd *cobra.Command, args []string) error {
	label, path := args[0], args[1]
	if label == "" {
		return fmt.Errorf("label must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("interpreter %s: %w", abs, err)
	}
	if info.IsDir() {
		return fmt.Errorf("interpreter %s is a directory", abs)
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	a.cache.Register(label, abs)
	if err := a.cache.Save(); err != nil {
		return err
	}
	a.logger.Info("Registered interpreter", zap.String("label", label), zap.String("path", abs))
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s -> %s\n", label, abs)
	return nil
}

func runInterpretersRemove(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	label := args[0]
	if !a.cache.Unregister(label) {
		return fmt.Errorf("no interpreter registered as %q", label)
	}
	if err := a.cache.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", label)
	return nil
}

func runInterpretersList(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	registered := a.cache.Document().Interpreters
	out := cmd.OutOrStdout()
	if len(registered) == 0 {
		fmt.Fprintln(out, "No interpreters registered.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tINTERPRETER\t")
	for _, label := range cache.Labels(registered) {
		path := registered[label]
		status := ""
		if _, err := os.Stat(path); err != nil {
			status = "(missing)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", label, path, status)
	}
	return tw.Flush()
}
