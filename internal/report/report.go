// Package report runs the compatibility check over every target and
// collects the outcome.
package report

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
	"github.com/frederic-klein/pyenvcheck/internal/compat"
	"github.com/frederic-klein/pyenvcheck/internal/conda"
	"github.com/frederic-klein/pyenvcheck/internal/inspect"
	"github.com/frederic-klein/pyenvcheck/internal/marker"
	"github.com/frederic-klein/pyenvcheck/internal/requirement"
	"github.com/frederic-klein/pyenvcheck/internal/target"
	"github.com/frederic-klein/pyenvcheck/internal/version"
)

// DefaultWorkers is the number of interpreters inspected at once.
const DefaultWorkers = 4

// WarningKind classifies a non-fatal problem.
type WarningKind string

const (
	KindParse      WarningKind = "parse"
	KindInspection WarningKind = "inspection"
	KindDiscovery  WarningKind = "discovery"
	KindCache      WarningKind = "cache"
	KindMarker     WarningKind = "marker"
	KindTarget     WarningKind = "target"
	KindOther      WarningKind = "other"
)

// Warning is a problem that did not stop the run.
type Warning struct {
	Kind    WarningKind
	Label   string // environment the warning is about, if any
	Message string
}

// NewWarning classifies err.
func NewWarning(label string, err error) Warning {
	return Warning{Kind: kindOf(err), Label: label, Message: err.Error()}
}

func kindOf(err error) WarningKind {
	var (
		parseErr  *requirement.ParseError
		inspErr   *inspect.InspectionError
		condaErr  *conda.DiscoveryError
		cacheErr  *cache.CorruptionError
		markerErr *compat.MarkerError
		skipErr   *target.SkipError
	)
	switch {
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &inspErr):
		return KindInspection
	case errors.As(err, &condaErr):
		return KindDiscovery
	case errors.As(err, &cacheErr):
		return KindCache
	case errors.As(err, &markerErr):
		return KindMarker
	case errors.As(err, &skipErr):
		return KindTarget
	}
	return KindOther
}

// Failure is a target that could not be inspected.
type Failure struct {
	Label string
	Path  string
	Err   error
}

// Result is everything a check produced.
type Result struct {
	Reports           []compat.EnvironmentReport // in target order
	Failures          []Failure
	Warnings          []Warning
	RecommendedPython string
	RequirementCount  int
	ExtraIndexes      []string
}

// Warn records err as a warning about label.
func (r *Result) Warn(label string, err error) {
	r.Warnings = append(r.Warnings, NewWarning(label, err))
}

// Aggregator inspects targets in parallel and scores each one.
type Aggregator struct {
	inspector inspect.Inspector
	workers   int
	env       marker.Environment
	logger    *zap.Logger
}

// NewAggregator creates an aggregator. env is the host marker environment;
// the Python version of each target is filled in per snapshot.
func NewAggregator(insp inspect.Inspector, workers int, env marker.Environment, logger *zap.Logger) *Aggregator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{inspector: insp, workers: workers, env: env, logger: logger}
}

type outcome struct {
	report   compat.EnvironmentReport
	warnings []error
	err      error
}

// Run checks every target against the parsed requirements. Inspection
// failures are recorded and never stop the other targets.
func (a *Aggregator) Run(ctx context.Context, targets []target.Target, parsed *requirement.ParseResult) *Result {
	result := &Result{
		Reports:           []compat.EnvironmentReport{},
		Failures:          []Failure{},
		Warnings:          []Warning{},
		RequirementCount:  len(parsed.Requirements),
		ExtraIndexes:      parsed.ExtraIndexes,
		RecommendedPython: RecommendPython(parsed.Requirements),
	}
	for i := range parsed.Errors {
		result.Warn("", &parsed.Errors[i])
	}

	outcomes := make([]outcome, len(targets))
	jobs := make(chan int, len(targets))

	var wg sync.WaitGroup
	for w := 0; w < a.workers && w < len(targets); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = a.check(ctx, targets[i], parsed.Requirements)
			}
		}()
	}

	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, o := range outcomes {
		tgt := targets[i]
		if o.err != nil {
			a.logger.Warn("Inspection failed", zap.String("label", tgt.Label), zap.Error(o.err))
			result.Failures = append(result.Failures, Failure{Label: tgt.Label, Path: tgt.Path, Err: o.err})
			result.Warn(tgt.Label, o.err)
			continue
		}
		for _, w := range o.warnings {
			result.Warn(tgt.Label, w)
		}
		result.Reports = append(result.Reports, o.report)
	}
	return result
}

func (a *Aggregator) check(ctx context.Context, tgt target.Target, reqs []requirement.Requirement) outcome {
	a.logger.Debug("Inspecting environment", zap.String("label", tgt.Label), zap.String("path", tgt.Path))
	snap, err := a.inspector.Inspect(ctx, tgt.Path)
	if err != nil {
		return outcome{err: err}
	}
	report, warnings := compat.Evaluate(tgt.Label, snap, reqs, a.env)
	return outcome{report: report, warnings: warnings}
}

// pythonCandidates are the interpreter versions RecommendPython considers,
// newest first.
var pythonCandidates = []string{"3.13", "3.12", "3.11", "3.10", "3.9", "3.8"}

// RecommendPython returns the newest candidate interpreter version whose
// ".0" release satisfies every python requirement, or "" if there are no
// python requirements or none fits.
func RecommendPython(reqs []requirement.Requirement) string {
	var specs []requirement.Specifier
	for _, req := range reqs {
		if req.Name == compat.PythonName {
			specs = append(specs, req.Specifiers...)
		}
	}
	if len(specs) == 0 {
		return ""
	}

	pinned := requirement.Requirement{Name: compat.PythonName, Specifiers: specs}
	for _, candidate := range pythonCandidates {
		if failed, _ := pinned.Check(version.Parse(candidate + ".0")); failed == nil {
			return candidate
		}
	}
	return ""
}
