// Package target decides which interpreters a check runs against.
package target

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
	"github.com/frederic-klein/pyenvcheck/internal/conda"
)

// CurrentLabel names the interpreter of the active environment.
const CurrentLabel = "current"

// ErrNoEnvironments means nothing was left to check.
var ErrNoEnvironments = errors.New("no Python environments to check")

// Source tells where a target came from.
type Source string

const (
	FromCurrent    Source = "current"
	FromExplicit   Source = "explicit"
	FromRegistered Source = "registered"
	FromConda      Source = "conda"
)

// Target is a labelled interpreter.
type Target struct {
	Label  string
	Path   string
	Source Source
}

// SkipError reports a requested interpreter that was left out.
type SkipError struct {
	Value  string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipping interpreter %s: %s", e.Value, e.Reason)
}

// Request describes which interpreters to collect.
type Request struct {
	NoCurrent         bool
	Explicit          []string // paths, label=path pairs or known labels
	IncludeRegistered bool
	IncludeConda      bool

	Registered map[string]string // manual registrations
	Conda      map[string]string // discovered environments
	Precedence conda.Precedence
}

// Collector builds target lists.
type Collector struct {
	getenv   func(string) string
	lookPath func(string) (string, error)
	goos     string
}

// NewCollector creates a collector for the running process.
func NewCollector() *Collector {
	return &Collector{getenv: os.Getenv, lookPath: exec.LookPath, goos: runtime.GOOS}
}

// Collect returns targets in the order current, explicit, registered,
// conda. An interpreter reachable under several labels keeps the first.
// Requested interpreters that cannot be used come back as *SkipError.
func (c *Collector) Collect(req Request) ([]Target, []error, error) {
	var (
		targets  []Target
		warnings []error
		seen     = make(map[string]bool)
	)
	add := func(label, path string, src Source) {
		key := identity(path)
		if seen[key] {
			return
		}
		seen[key] = true
		targets = append(targets, Target{Label: label, Path: path, Source: src})
	}

	if !req.NoCurrent {
		if path, ok := c.current(); ok {
			add(CurrentLabel, path, FromCurrent)
		}
	}

	known := conda.Merge(req.Registered, req.Conda, req.Precedence)
	for i, value := range req.Explicit {
		label, path, err := c.explicit(i+1, value, known)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		add(label, path, FromExplicit)
	}

	// A label known to both sources resolves through known for every
	// include flag and is added once, tagged with the side that won.
	included := make(map[string]bool)
	include := func(labels []string) {
		for _, label := range labels {
			if included[label] {
				continue
			}
			included[label] = true
			path, src := known[label], FromConda
			if manual, ok := req.Registered[label]; ok && manual == path {
				src = FromRegistered
			}
			if !isFile(path) {
				warnings = append(warnings, &SkipError{Value: label, Reason: path + " does not exist"})
				continue
			}
			add(label, path, src)
		}
	}
	if req.IncludeRegistered {
		include(cache.Labels(req.Registered))
	}
	if req.IncludeConda {
		include(cache.Labels(req.Conda))
	}

	if len(targets) == 0 {
		return nil, warnings, ErrNoEnvironments
	}
	return targets, warnings, nil
}

func (c *Collector) explicit(index int, value string, known map[string]string) (string, string, error) {
	if isFile(value) {
		return "python-" + strconv.Itoa(index), absolute(value), nil
	}
	if label, path, ok := strings.Cut(value, "="); ok && label != "" {
		if !isFile(path) {
			return "", "", &SkipError{Value: value, Reason: "interpreter not found"}
		}
		return label, absolute(path), nil
	}
	if path, ok := known[value]; ok {
		if !isFile(path) {
			return "", "", &SkipError{Value: value, Reason: path + " does not exist"}
		}
		return value, path, nil
	}
	return "", "", &SkipError{Value: value, Reason: "not a file or a known label"}
}

// current finds the interpreter of the active virtualenv or conda
// environment, falling back to the first python on PATH.
func (c *Collector) current() (string, bool) {
	for _, prefix := range []string{c.getenv("VIRTUAL_ENV"), c.getenv("CONDA_PREFIX")} {
		if prefix == "" {
			continue
		}
		for _, candidate := range c.envInterpreters(prefix) {
			if isFile(candidate) {
				return candidate, true
			}
		}
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := c.lookPath(name); err == nil {
			return absolute(path), true
		}
	}
	return "", false
}

func (c *Collector) envInterpreters(prefix string) []string {
	if c.goos == "windows" {
		return []string{
			filepath.Join(prefix, "Scripts", "python.exe"),
			filepath.Join(prefix, "python.exe"),
		}
	}
	return []string{
		filepath.Join(prefix, "bin", "python"),
		filepath.Join(prefix, "bin", "python3"),
	}
}

// identity resolves symlinks in the directory of path but not the file
// itself: a virtualenv's bin/python links to its base interpreter and must
// stay a separate target.
func identity(path string) string {
	path = absolute(path)
	dir, file := filepath.Split(path)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return filepath.Join(dir, file)
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
