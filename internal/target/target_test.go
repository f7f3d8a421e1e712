package target

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/pyenvcheck/internal/conda"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0755))
	return path
}

func testCollector(env map[string]string, onPath string) *Collector {
	return &Collector{
		getenv: func(key string) string { return env[key] },
		lookPath: func(name string) (string, error) {
			if onPath != "" && name == "python3" {
				return onPath, nil
			}
			return "", errors.New("not found")
		},
		goos: "linux",
	}
}

func labels(targets []Target) []string {
	out := make([]string, len(targets))
	for i, tgt := range targets {
		out[i] = tgt.Label
	}
	return out
}

func TestCollect_Order(t *testing.T) {
	dir := t.TempDir()
	current := touch(t, filepath.Join(dir, "venv", "bin", "python"))
	explicit := touch(t, filepath.Join(dir, "explicit", "python"))
	registered := touch(t, filepath.Join(dir, "registered", "python"))
	condaML := touch(t, filepath.Join(dir, "conda", "envs", "ml", "bin", "python"))
	condaBase := touch(t, filepath.Join(dir, "conda", "bin", "python"))

	c := testCollector(map[string]string{"VIRTUAL_ENV": filepath.Join(dir, "venv")}, "")
	targets, warnings, err := c.Collect(Request{
		Explicit:          []string{explicit},
		IncludeRegistered: true,
		IncludeConda:      true,
		Registered:        map[string]string{"reg": registered},
		Conda:             map[string]string{"ml": condaML, "base": condaBase},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []Target{
		{Label: "current", Path: current, Source: FromCurrent},
		{Label: "python-1", Path: explicit, Source: FromExplicit},
		{Label: "reg", Path: registered, Source: FromRegistered},
		{Label: "base", Path: condaBase, Source: FromConda},
		{Label: "ml", Path: condaML, Source: FromConda},
	}, targets)
}

func TestCollect_Explicit(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "a", "python"))
	b := touch(t, filepath.Join(dir, "b", "python"))
	reg := touch(t, filepath.Join(dir, "reg", "python"))
	env := touch(t, filepath.Join(dir, "env", "python"))

	c := testCollector(nil, "")
	targets, warnings, err := c.Collect(Request{
		NoCurrent:  true,
		Explicit:   []string{"nope", a, "mine=" + b, "py-reg", "ml", "bad=" + filepath.Join(dir, "missing")},
		Registered: map[string]string{"py-reg": reg},
		Conda:      map[string]string{"ml": env},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"python-2", "mine", "py-reg", "ml"}, labels(targets))
	require.Len(t, warnings, 2)
	var skip *SkipError
	require.True(t, errors.As(warnings[0], &skip))
	assert.Equal(t, "nope", skip.Value)
	assert.Contains(t, warnings[1].Error(), "interpreter not found")
}

func TestCollect_ExplicitLabelPrecedence(t *testing.T) {
	dir := t.TempDir()
	manual := touch(t, filepath.Join(dir, "manual", "python"))
	discovered := touch(t, filepath.Join(dir, "conda", "python"))
	req := Request{
		NoCurrent:  true,
		Explicit:   []string{"ml"},
		Registered: map[string]string{"ml": manual},
		Conda:      map[string]string{"ml": discovered},
	}

	targets, _, err := testCollector(nil, "").Collect(req)
	require.NoError(t, err)
	assert.Equal(t, manual, targets[0].Path)

	req.Precedence = conda.PreferConda
	targets, _, err = testCollector(nil, "").Collect(req)
	require.NoError(t, err)
	assert.Equal(t, discovered, targets[0].Path)
}

func TestCollect_IncludedLabelPrecedence(t *testing.T) {
	dir := t.TempDir()
	manual := touch(t, filepath.Join(dir, "manual", "python"))
	discovered := touch(t, filepath.Join(dir, "conda", "python"))
	other := touch(t, filepath.Join(dir, "ds", "bin", "python"))
	base := Request{
		NoCurrent:  true,
		Registered: map[string]string{"ml": manual},
		Conda:      map[string]string{"ml": discovered, "ds": other},
	}

	tests := []struct {
		name       string
		registered bool
		conda      bool
		precedence conda.Precedence
		want       []Target
	}{
		{
			name: "both flags, manual wins", registered: true, conda: true,
			want: []Target{
				{Label: "ml", Path: manual, Source: FromRegistered},
				{Label: "ds", Path: other, Source: FromConda},
			},
		},
		{
			name: "conda flag only, manual wins", conda: true,
			want: []Target{
				{Label: "ds", Path: other, Source: FromConda},
				{Label: "ml", Path: manual, Source: FromRegistered},
			},
		},
		{
			name: "both flags, conda wins", registered: true, conda: true, precedence: conda.PreferConda,
			want: []Target{
				{Label: "ml", Path: discovered, Source: FromConda},
				{Label: "ds", Path: other, Source: FromConda},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.IncludeRegistered = tt.registered
			req.IncludeConda = tt.conda
			req.Precedence = tt.precedence

			targets, warnings, err := testCollector(nil, "").Collect(req)
			require.NoError(t, err)
			assert.Empty(t, warnings)
			assert.Equal(t, tt.want, targets)
		})
	}
}

func TestCollect_ExplicitPathContainingEquals(t *testing.T) {
	py := touch(t, filepath.Join(t.TempDir(), "py=3.11", "bin", "python"))

	targets, warnings, err := testCollector(nil, "").Collect(Request{NoCurrent: true, Explicit: []string{py}})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, targets, 1)
	assert.Equal(t, "python-1", targets[0].Label)
	assert.Equal(t, py, targets[0].Path)
}

func TestCollect_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	python := touch(t, filepath.Join(dir, "real", "bin", "python"))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), link))
	venvPython := filepath.Join(dir, "venv", "bin", "python")
	require.NoError(t, os.MkdirAll(filepath.Dir(venvPython), 0755))
	require.NoError(t, os.Symlink(python, venvPython))

	c := testCollector(nil, python)
	targets, _, err := c.Collect(Request{
		Explicit:          []string{filepath.Join(link, "bin", "python"), venvPython},
		IncludeRegistered: true,
		Registered:        map[string]string{"again": python},
	})
	require.NoError(t, err)

	// The path through the linked directory is the current interpreter;
	// the virtualenv's python link is its own target.
	assert.Equal(t, []string{"current", "python-2"}, labels(targets))
}

func TestCollect_CurrentFallbacks(t *testing.T) {
	dir := t.TempDir()
	condaPython := touch(t, filepath.Join(dir, "conda", "bin", "python"))
	pathPython := touch(t, filepath.Join(dir, "usr", "bin", "python3"))

	c := testCollector(map[string]string{
		"VIRTUAL_ENV":  filepath.Join(dir, "gone"),
		"CONDA_PREFIX": filepath.Join(dir, "conda"),
	}, pathPython)
	targets, _, err := c.Collect(Request{})
	require.NoError(t, err)
	assert.Equal(t, condaPython, targets[0].Path)

	c = testCollector(nil, pathPython)
	targets, _, err = c.Collect(Request{})
	require.NoError(t, err)
	assert.Equal(t, pathPython, targets[0].Path)
}

func TestCollect_NoEnvironments(t *testing.T) {
	dir := t.TempDir()
	c := testCollector(nil, "")

	_, warnings, err := c.Collect(Request{
		IncludeRegistered: true,
		Registered:        map[string]string{"old": filepath.Join(dir, "removed", "python")},
	})
	assert.ErrorIs(t, err, ErrNoEnvironments)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Error(), "skipping interpreter old")

	_, _, err = c.Collect(Request{NoCurrent: true})
	assert.ErrorIs(t, err, ErrNoEnvironments)
}
