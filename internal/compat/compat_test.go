package compat

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/pyenvcheck/internal/inspect"
	"github.com/frederic-klein/pyenvcheck/internal/marker"
	"github.com/frederic-klein/pyenvcheck/internal/requirement"
)

func parseAll(t *testing.T, lines ...string) []requirement.Requirement {
	t.Helper()
	reqs := make([]requirement.Requirement, 0, len(lines))
	for _, line := range lines {
		req, err := requirement.ParseLine(line)
		require.NoError(t, err, line)
		reqs = append(reqs, req)
	}
	return reqs
}

func linux() marker.Environment {
	return marker.Environment{
		"os_name":          "posix",
		"sys_platform":     "linux",
		"platform_system":  "Linux",
		"platform_machine": "x86_64",
	}
}

func snapshot(python string, packages map[string]string) *inspect.Snapshot {
	return &inspect.Snapshot{Interpreter: "/envs/a/bin/python", PythonVersion: python, Packages: packages}
}

func TestEvaluate(t *testing.T) {
	reqs := parseAll(t, "numpy>=1.20", "pandas==2.0.0", "requests")
	snap := snapshot("3.11.4", map[string]string{"numpy": "1.24.0", "pandas": "1.5.3", "requests": "2.31.0"})

	report, warnings := Evaluate("a", snap, reqs, linux())
	assert.Empty(t, warnings)

	assert.Equal(t, "a", report.Label)
	assert.Equal(t, "/envs/a/bin/python", report.InterpreterPath)
	assert.Equal(t, "3.11.4", report.PythonVersion)
	assert.Equal(t, []string{"numpy", "requests"}, report.Matched)
	assert.Equal(t, []Mismatch{{
		Name:       "pandas",
		Installed:  "1.5.3",
		Constraint: requirement.Specifier{Op: "==", Version: "2.0.0"},
	}}, report.Mismatched)
	assert.Empty(t, report.Missing)
	assert.Equal(t, 3, report.ApplicableCount)
	assert.InDelta(t, 66.666, report.Compatibility, 0.01)
	assert.Equal(t, 66.67, math.Round(report.Compatibility*100)/100)
}

func TestEvaluate_NumpyPandasExample(t *testing.T) {
	reqs := parseAll(t, "numpy>=1.20", "pandas")
	snap := snapshot("3.11.4", map[string]string{"numpy": "1.24.0"})

	report, _ := Evaluate("env", snap, reqs, linux())

	assert.Equal(t, []string{"numpy"}, report.Matched)
	assert.Equal(t, []string{"pandas"}, report.Missing)
	assert.Equal(t, 50.0, report.Compatibility)
}

func TestEvaluate_NoRequirements(t *testing.T) {
	report, warnings := Evaluate("empty", snapshot("3.12.0", map[string]string{}), nil, linux())

	assert.Empty(t, warnings)
	assert.Equal(t, 0, report.ApplicableCount)
	assert.Equal(t, 100.0, report.Compatibility)
	assert.NotNil(t, report.Matched)
	assert.NotNil(t, report.Missing)
}

func TestEvaluate_FirstFailingSpecifierRecorded(t *testing.T) {
	reqs := parseAll(t, "django>=4.0,<4.2,!=4.1.3")
	snap := snapshot("3.11.4", map[string]string{"django": "4.2.1"})

	report, _ := Evaluate("a", snap, reqs, linux())

	require.Len(t, report.Mismatched, 1)
	assert.Equal(t, "<4.2", report.Mismatched[0].Constraint.String())
	assert.Equal(t, 0.0, report.Compatibility)
}

func TestEvaluate_Markers(t *testing.T) {
	reqs := parseAll(t,
		`pywin32>=300; sys_platform == "win32"`,
		`tomli; python_version < "3.11"`,
		`numpy; platform_machine == "x86_64"`,
		`colorama; platform_colour == "blue"`,
	)
	snap := snapshot("3.11.4", map[string]string{"numpy": "1.26.0", "colorama": "0.4.6"})

	report, warnings := Evaluate("a", snap, reqs, linux())

	assert.Equal(t, []string{"pywin32", "tomli"}, report.Skipped)
	assert.Equal(t, []string{"numpy", "colorama"}, report.Matched)
	assert.Equal(t, 2, report.ApplicableCount)
	assert.Equal(t, 100.0, report.Compatibility)

	require.Len(t, warnings, 1)
	var markerErr *MarkerError
	require.True(t, errors.As(warnings[0], &markerErr))
	assert.Equal(t, "colorama", markerErr.Requirement)
}

func TestEvaluate_MarkerUsesSnapshotPython(t *testing.T) {
	reqs := parseAll(t, `tomli; python_version < "3.11"`)
	snap := snapshot("3.10.12", map[string]string{})

	report, _ := Evaluate("a", snap, reqs, linux())

	assert.Equal(t, []string{"tomli"}, report.Missing)
	assert.Empty(t, report.Skipped)
}

func TestEvaluate_PythonRequirement(t *testing.T) {
	tests := []struct {
		line       string
		python     string
		matched    bool
		constraint string
	}{
		{"python>=3.9", "3.11.4", true, ""},
		{"python==3.10", "3.10.12", true, ""},
		{"python==3.10", "3.11.0", false, "==3.10"},
		{"python==3.10.4", "3.10.12", false, "==3.10.4"},
		{"python>=3.8,<3.11", "3.11.4", false, "<3.11"},
		{"python~=3.10", "3.10.2", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line+"/"+tt.python, func(t *testing.T) {
			report, _ := Evaluate("a", snapshot(tt.python, map[string]string{}), parseAll(t, tt.line), linux())

			if tt.matched {
				assert.Equal(t, []string{"python"}, report.Matched)
				return
			}
			require.Len(t, report.Mismatched, 1)
			assert.Equal(t, tt.constraint, report.Mismatched[0].Constraint.String())
			assert.Equal(t, tt.python, report.Mismatched[0].Installed)
		})
	}
}

func TestEvaluate_PythonUnknownIsMissing(t *testing.T) {
	report, _ := Evaluate("a", snapshot("", map[string]string{"python": "3.11"}), parseAll(t, "python>=3.8"), linux())

	assert.Equal(t, []string{"python"}, report.Missing)
}

func TestEvaluate_OpaqueComparison(t *testing.T) {
	reqs := parseAll(t, "tool>=1.0")
	snap := snapshot("3.11.4", map[string]string{"tool": "nightly"})

	report, _ := Evaluate("a", snap, reqs, linux())

	assert.Equal(t, []string{"tool"}, report.OpaqueComparisons)
	assert.Equal(t, []string{"tool"}, report.Matched)
}

func TestEvaluate_ScoreIsMonotonic(t *testing.T) {
	reqs := parseAll(t, "a>=1", "b>=1", "c>=1", "d>=1")
	packages := map[string]string{}
	snap := snapshot("3.11.4", packages)

	prev := -1.0
	for _, name := range []string{"a", "b", "c", "d"} {
		packages[name] = "1.0"
		report, _ := Evaluate("env", snap, reqs, linux())
		assert.Greater(t, report.Compatibility, prev)
		prev = report.Compatibility
	}
	assert.Equal(t, 100.0, prev)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100.0, Score(0, 0))
	assert.Equal(t, 0.0, Score(0, 3))
	assert.Equal(t, 25.0, Score(1, 4))
	assert.InDelta(t, 33.333, Score(1, 3), 0.001)
}
