// Package inspect reads the installed package set of a Python interpreter.
package inspect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/frederic-klein/pyenvcheck/internal/requirement"
	"github.com/frederic-klein/pyenvcheck/internal/runner"
)

const (
	// DefaultTimeout bounds each pip invocation.
	DefaultTimeout = 60 * time.Second
	versionTimeout = 10 * time.Second
)

// Snapshot is the package set of one interpreter at inspection time.
type Snapshot struct {
	Interpreter   string
	PythonVersion string            // empty when it could not be determined
	Packages      map[string]string // normalized name -> installed version
}

// Lookup returns the installed version of a package by any spelling of
// its name.
func (s *Snapshot) Lookup(name string) (string, bool) {
	v, ok := s.Packages[requirement.NormalizeName(name)]
	return v, ok
}

// Inspector produces snapshots.
type Inspector interface {
	Inspect(ctx context.Context, interpreter string) (*Snapshot, error)
}

// InspectionError reports an interpreter that could not be inspected.
type InspectionError struct {
	Interpreter string
	Op          string
	Err         error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("inspecting %s: %s: %v", e.Interpreter, e.Op, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// PipInspector asks pip inside the interpreter for its packages.
type PipInspector struct {
	runner  runner.Runner
	timeout time.Duration
	logger  *zap.Logger
}

// NewPipInspector creates an inspector. A zero timeout uses DefaultTimeout.
func NewPipInspector(r runner.Runner, timeout time.Duration, logger *zap.Logger) *PipInspector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipInspector{runner: r, timeout: timeout, logger: logger}
}

// Inspect lists the packages of interpreter and reads its version. Only a
// missing interpreter or a failure of both pip listings is an error.
func (p *PipInspector) Inspect(ctx context.Context, interpreter string) (*Snapshot, error) {
	if err := checkExecutable(interpreter); err != nil {
		return nil, &InspectionError{Interpreter: interpreter, Op: "locate interpreter", Err: err}
	}

	packages, err := p.packages(ctx, interpreter)
	if err != nil {
		return nil, &InspectionError{Interpreter: interpreter, Op: "list packages", Err: err}
	}

	version, err := p.pythonVersion(ctx, interpreter)
	if err != nil {
		p.logger.Warn("Python version detection failed",
			zap.String("interpreter", interpreter), zap.Error(err))
	}

	return &Snapshot{
		Interpreter:   interpreter,
		PythonVersion: version,
		Packages:      packages,
	}, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

type pipListEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (p *PipInspector) packages(ctx context.Context, interpreter string) (map[string]string, error) {
	out, err := p.run(ctx, interpreter, "-m", "pip", "list", "--format=json")
	if err == nil {
		var entries []pipListEntry
		if err = json.Unmarshal(out, &entries); err == nil {
			packages := make(map[string]string, len(entries))
			for _, e := range entries {
				packages[requirement.NormalizeName(e.Name)] = e.Version
			}
			return packages, nil
		}
		err = fmt.Errorf("parsing pip list output: %w", err)
	}
	p.logger.Debug("pip list failed, falling back to pip freeze",
		zap.String("interpreter", interpreter), zap.Error(err))

	out, err = p.run(ctx, interpreter, "-m", "pip", "freeze")
	if err != nil {
		return nil, err
	}
	return parseFreeze(out), nil
}

// parseFreeze reads "name==version" lines; editable and direct reference
// lines carry no version and are ignored.
func parseFreeze(out []byte) map[string]string {
	packages := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, version, ok := strings.Cut(scanner.Text(), "==")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "-") {
			continue
		}
		packages[requirement.NormalizeName(name)] = strings.TrimSpace(version)
	}
	return packages
}

var pythonVersionRe = regexp.MustCompile(`Python\s*(\d+\.\d+(?:\.\d+)?)`)

func (p *PipInspector) pythonVersion(ctx context.Context, interpreter string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	res, err := p.runner.Run(ctx, interpreter, "--version")
	if err != nil {
		return "", err
	}
	// Python 2 prints its version on stderr.
	combined := string(res.Stdout) + " " + string(res.Stderr)
	m := pythonVersionRe.FindStringSubmatch(combined)
	if m == nil {
		return "", fmt.Errorf("unrecognized version output %q", strings.TrimSpace(combined))
	}
	return m[1], nil
}

func (p *PipInspector) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	res, err := p.runner.Run(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}
