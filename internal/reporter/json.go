package reporter

import (
	"encoding/json"
	"io"
	"math"
	"sort"

	"github.com/frederic-klein/pyenvcheck/internal/report"
)

// JSONReporter prints the result as one indented JSON document. Reports
// keep target order; package lists inside a report are sorted by name.
type JSONReporter struct {
	opts Options
}

type jsonMismatch struct {
	Name       string `json:"name"`
	Installed  string `json:"installed"`
	Constraint string `json:"constraint"`
}

type jsonEnvironment struct {
	Label           string         `json:"label"`
	InterpreterPath string         `json:"interpreter_path,omitempty"`
	PythonVersion   string         `json:"python_version"`
	Compatibility   float64        `json:"compatibility"`
	ApplicableCount int            `json:"applicable_count"`
	Matched         []string       `json:"matched"`
	Missing         []string       `json:"missing"`
	Mismatched      []jsonMismatch `json:"mismatched"`
	Skipped         []string       `json:"skipped,omitempty"`
}

type jsonFailure struct {
	Label string `json:"label"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error"`
}

type jsonWarning struct {
	Kind    string `json:"kind"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message"`
}

type jsonOutput struct {
	Requirements      int               `json:"requirements"`
	RecommendedPython string            `json:"recommended_python,omitempty"`
	Reports           []jsonEnvironment `json:"reports"`
	Failures          []jsonFailure     `json:"failures"`
	Warnings          []jsonWarning     `json:"warnings"`
	ExtraIndexes      []string          `json:"extra_indexes"`
}

func (r *JSONReporter) Report(w io.Writer, res *report.Result) error {
	out := jsonOutput{
		Requirements:      res.RequirementCount,
		RecommendedPython: res.RecommendedPython,
		Reports:           make([]jsonEnvironment, 0, len(res.Reports)),
		Failures:          make([]jsonFailure, 0, len(res.Failures)),
		Warnings:          make([]jsonWarning, 0, len(res.Warnings)),
		ExtraIndexes:      append([]string{}, res.ExtraIndexes...),
	}

	for _, env := range res.Reports {
		je := jsonEnvironment{
			Label:           env.Label,
			PythonVersion:   env.PythonVersion,
			Compatibility:   round2(env.Compatibility),
			ApplicableCount: env.ApplicableCount,
			Matched:         sortedNames(env.Matched),
			Missing:         sortedNames(env.Missing),
			Mismatched:      make([]jsonMismatch, 0, len(env.Mismatched)),
			Skipped:         sortedNames(env.Skipped),
		}
		if r.opts.ShowPaths {
			je.InterpreterPath = env.InterpreterPath
		}
		for _, m := range env.Mismatched {
			je.Mismatched = append(je.Mismatched, jsonMismatch{
				Name:       m.Name,
				Installed:  m.Installed,
				Constraint: m.Constraint.String(),
			})
		}
		sort.SliceStable(je.Mismatched, func(i, j int) bool {
			return je.Mismatched[i].Name < je.Mismatched[j].Name
		})
		out.Reports = append(out.Reports, je)
	}

	for _, f := range res.Failures {
		jf := jsonFailure{Label: f.Label, Error: f.Err.Error()}
		if r.opts.ShowPaths {
			jf.Path = f.Path
		}
		out.Failures = append(out.Failures, jf)
	}

	for _, warn := range res.Warnings {
		out.Warnings = append(out.Warnings, jsonWarning{
			Kind:    string(warn.Kind),
			Label:   warn.Label,
			Message: warn.Message,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func sortedNames(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}
