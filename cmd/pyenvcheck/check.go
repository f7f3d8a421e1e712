package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/frederic-klein/pyenvcheck/internal/conda"
	"github.com/frederic-klein/pyenvcheck/internal/history"
	"github.com/frederic-klein/pyenvcheck/internal/inspect"
	"github.com/frederic-klein/pyenvcheck/internal/marker"
	"github.com/frederic-klein/pyenvcheck/internal/report"
	"github.com/frederic-klein/pyenvcheck/internal/reporter"
	"github.com/frederic-klein/pyenvcheck/internal/requirement"
	"github.com/frederic-klein/pyenvcheck/internal/target"
)

var (
	requirementsPath  string
	pythons           []string
	includeConda      bool
	includeRegistered bool
	condaExe          string
	refresh           bool
	noCurrent         bool
	outputFmt         string
	showPaths         bool
	workers           int
	record            bool
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check environments against a requirements file",
		Long: `Parse a requirements file and report, for every selected interpreter,
which requirements are met, missing or installed at a conflicting version.

Examples:
  # Check the active interpreter
  pyenvcheck check -r requirements.txt

  # Check two interpreters and every conda environment, as JSON
  pyenvcheck check -r requirements.txt --python /usr/bin/python3.11 \
    --python legacy=/opt/py38/bin/python --include-conda-envs -o json`,
		RunE: runCheck,
	}
	addCheckFlags(cmd)
	return cmd
}

func addCheckFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&requirementsPath, "requirements", "r", "requirements.txt", "Requirements file to check")
	flags.StringArrayVar(&pythons, "python", nil, "Interpreter to check: a path, LABEL=PATH or a registered label (repeatable)")
	flags.BoolVar(&includeConda, "include-conda-envs", false, "Also check every conda environment")
	flags.BoolVar(&includeRegistered, "include-registered", false, "Also check every registered interpreter")
	flags.StringVar(&condaExe, "conda", "", "Conda executable to use")
	flags.BoolVar(&refresh, "refresh", false, "Rediscover conda environments instead of using the cache")
	flags.BoolVar(&noCurrent, "no-current", false, "Do not check the active interpreter")
	flags.StringVarP(&outputFmt, "output", "o", "text", "Output format: text, json")
	flags.BoolVar(&showPaths, "show-paths", false, "Show interpreter paths")
	flags.IntVar(&workers, "workers", report.DefaultWorkers, "Interpreters inspected in parallel")
	flags.BoolVar(&record, "record", false, "Record the results in the run history")
}

func runCheck(cmd *cobra.Command, args []string) error {
	started := time.Now()
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	parsed, err := requirement.NewParser().Parse(requirementsPath)
	if err != nil {
		return fmt.Errorf("parsing requirements: %w", err)
	}
	a.logger.Info("Parsed requirements",
		zap.String("file", requirementsPath),
		zap.Int("count", len(parsed.Requirements)),
		zap.Int("errors", len(parsed.Errors)))

	doc := a.cache.Document()
	discovered := doc.Environments
	var warnings []error
	if includeConda || refresh {
		res := a.discoverer().Discover(ctx, a.discoveryOptions(refresh))
		discovered = res.Environments
		if res.Err != nil {
			warnings = append(warnings, res.Err)
		}
	}

	precedence, _ := conda.ParsePrecedence(a.cfg.Conda.Precedence)
	targets, skipped, err := target.NewCollector().Collect(target.Request{
		NoCurrent:         noCurrent,
		Explicit:          pythons,
		IncludeRegistered: includeRegistered,
		IncludeConda:      includeConda,
		Registered:        doc.Interpreters,
		Conda:             discovered,
		Precedence:        precedence,
	})
	for _, w := range skipped {
		a.logger.Warn("Skipping interpreter", zap.Error(w))
	}
	if err != nil {
		return err
	}
	warnings = append(warnings, skipped...)

	insp := inspect.NewPipInspector(a.runner, a.cfg.Inspect.Timeout.Duration, a.logger)
	agg := report.NewAggregator(insp, a.cfg.Inspect.Workers, marker.HostEnvironment(), a.logger)
	res := agg.Run(ctx, targets, parsed)
	for _, w := range append(a.warnings, warnings...) {
		res.Warn("", w)
	}

	rep, err := reporter.New(a.cfg.Output.Format, reporter.Options{ShowPaths: a.cfg.Output.ShowPaths})
	if err != nil {
		return err
	}
	if err := rep.Report(cmd.OutOrStdout(), res); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if a.cfg.History.Enabled {
		a.recordRun(ctx, res, started)
	}
	return nil
}

func (a *app) discoverer() *conda.Discoverer {
	return conda.NewDiscoverer(a.runner, a.cache, a.cfg.Conda.SearchPaths, a.logger)
}

func (a *app) discoveryOptions(refresh bool) conda.Options {
	return conda.Options{
		Executable: a.cfg.Conda.Executable,
		Refresh:    refresh,
		MaxAge:     a.cfg.Conda.MaxAge.Duration,
	}
}

// recordRun stores the results. A history failure never fails the check.
func (a *app) recordRun(ctx context.Context, res *report.Result, started time.Time) {
	store, err := history.Open(ctx, a.cfg.HistoryPath())
	if err != nil {
		a.logger.Warn("Cannot open run history", zap.Error(err))
		return
	}
	defer store.Close()

	id, err := store.Record(ctx, history.FromReport(res, requirementsPath, started))
	if err != nil {
		a.logger.Warn("Cannot record run", zap.Error(err))
		return
	}
	a.logger.Info("Recorded run", zap.String("id", id))
}
