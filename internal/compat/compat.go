// Package compat scores how well an inspected environment satisfies a set of
// requirements.
package compat

import (
	"fmt"
	"strings"

	"github.com/frederic-klein/pyenvcheck/internal/inspect"
	"github.com/frederic-klein/pyenvcheck/internal/marker"
	"github.com/frederic-klein/pyenvcheck/internal/requirement"
	"github.com/frederic-klein/pyenvcheck/internal/version"
)

// PythonName is the pseudo-package checked against the interpreter version.
const PythonName = "python"

// Mismatch is an installed package that fails one of its specifiers.
type Mismatch struct {
	Name       string
	Installed  string
	Constraint requirement.Specifier
}

// EnvironmentReport is the outcome of checking one environment.
type EnvironmentReport struct {
	Label           string
	InterpreterPath string
	PythonVersion   string

	Matched    []string
	Mismatched []Mismatch
	Missing    []string
	// Skipped holds requirements whose marker excludes this environment.
	Skipped []string

	ApplicableCount int
	Compatibility   float64 // 0-100, unrounded

	// OpaqueComparisons names requirements decided by plain string
	// ordering because a version had no numeric structure.
	OpaqueComparisons []string
}

// MarkerError reports a marker that could not be evaluated. The
// requirement is still treated as applicable.
type MarkerError struct {
	Requirement string
	Marker      string
	Err         error
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("evaluating marker %q of %s: %v", e.Marker, e.Requirement, e.Err)
}

func (e *MarkerError) Unwrap() error { return e.Err }

// Evaluate checks every requirement against snap. The returned errors are
// warnings about markers; they never change the set of applicable
// requirements except by keeping a requirement in.
func Evaluate(label string, snap *inspect.Snapshot, reqs []requirement.Requirement, env marker.Environment) (EnvironmentReport, []error) {
	report := EnvironmentReport{
		Label:           label,
		InterpreterPath: snap.Interpreter,
		PythonVersion:   snap.PythonVersion,
		Matched:         []string{},
		Mismatched:      []Mismatch{},
		Missing:         []string{},
		Skipped:         []string{},
	}
	env = env.WithPython(snap.PythonVersion)

	var warnings []error
	for _, req := range reqs {
		if req.Marker != "" {
			ok, err := marker.Evaluate(req.Marker, env)
			if err != nil {
				warnings = append(warnings, &MarkerError{Requirement: req.Name, Marker: req.Marker, Err: err})
			} else if !ok {
				report.Skipped = append(report.Skipped, req.Name)
				continue
			}
		}
		report.ApplicableCount++

		installed, found := installedVersion(req, snap)
		if !found {
			report.Missing = append(report.Missing, req.Name)
			continue
		}

		failed, opaque := check(req, installed)
		if opaque {
			report.OpaqueComparisons = append(report.OpaqueComparisons, req.Name)
		}
		if failed != nil {
			report.Mismatched = append(report.Mismatched, Mismatch{
				Name:       req.Name,
				Installed:  installed,
				Constraint: *failed,
			})
			continue
		}
		report.Matched = append(report.Matched, req.Name)
	}

	report.Compatibility = Score(len(report.Matched), report.ApplicableCount)
	return report, warnings
}

// Score is the percentage of applicable requirements that matched. With
// nothing applicable the environment is fully compatible.
func Score(matched, applicable int) float64 {
	if applicable == 0 {
		return 100.0
	}
	return 100 * float64(matched) / float64(applicable)
}

func installedVersion(req requirement.Requirement, snap *inspect.Snapshot) (string, bool) {
	if req.Name == PythonName {
		return snap.PythonVersion, snap.PythonVersion != ""
	}
	return snap.Lookup(req.Name)
}

// check returns the first specifier of req that installed fails, as
// written in the requirements file.
func check(req requirement.Requirement, installed string) (*requirement.Specifier, bool) {
	if req.Name != PythonName {
		return req.Check(version.Parse(installed))
	}

	// "python==3.10" pins the minor release, not 3.10.0.
	pinned := req
	pinned.Specifiers = make([]requirement.Specifier, len(req.Specifiers))
	for i, s := range req.Specifiers {
		if s.Op == version.Equal && !strings.HasSuffix(s.Version, ".*") && len(version.Parse(s.Version).Release()) == 2 {
			s.Version += ".*"
		}
		pinned.Specifiers[i] = s
	}

	failed, opaque := pinned.Check(version.Parse(installed))
	if failed == nil {
		return nil, opaque
	}
	for i, s := range pinned.Specifiers {
		if s == *failed {
			return &req.Specifiers[i], opaque
		}
	}
	return failed, opaque
}
