// Package conda finds a conda installation and the Python interpreters of
// its environments, caching what it found.
package conda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
	"github.com/frederic-klein/pyenvcheck/internal/runner"
)

const listTimeout = 30 * time.Second

// State is a step of a discovery run.
type State int

const (
	NotStarted State = iota
	LocatingExecutable
	EnumeratingEnvironments
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case LocatingExecutable:
		return "locating executable"
	case EnumeratingEnvironments:
		return "enumerating environments"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ErrNotFound is wrapped by DiscoveryError when no candidate answered
// "conda --version".
var ErrNotFound = errors.New("no working conda executable found")

// DiscoveryError reports a failed discovery. It is never fatal: the
// previously cached environments stay in use.
type DiscoveryError struct {
	State      State // the step that failed
	Executable string
	Err        error
}

func (e *DiscoveryError) Error() string {
	if e.Executable == "" {
		return fmt.Sprintf("conda discovery failed while %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("conda discovery failed while %s with %s: %v", e.State, e.Executable, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Options control one discovery run.
type Options struct {
	Executable string        // tried before anything else
	Refresh    bool          // ignore cached environments and executable
	MaxAge     time.Duration // cached environments older than this are rediscovered; 0 never expires
}

// Result is the outcome of Discover.
type Result struct {
	State        State
	Executable   string
	Environments map[string]string // label -> interpreter
	FromCache    bool
	// Err is a *DiscoveryError when State is Failed. On Resolved it may
	// report that the cache could not be written.
	Err error
}

// Discoverer runs conda discovery against a cache handle.
type Discoverer struct {
	runner      runner.Runner
	cache       *cache.Handle
	searchPaths []string
	logger      *zap.Logger

	state  State
	now    func() time.Time
	getenv func(string) string
	goos   string
	home   string
}

// NewDiscoverer creates a discoverer. searchPaths are extra files or
// installation directories tried before CONDA_EXE and PATH.
func NewDiscoverer(r runner.Runner, c *cache.Handle, searchPaths []string, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	home, _ := os.UserHomeDir()
	return &Discoverer{
		runner:      r,
		cache:       c,
		searchPaths: searchPaths,
		logger:      logger,
		state:       NotStarted,
		now:         time.Now,
		getenv:      os.Getenv,
		goos:        runtime.GOOS,
		home:        home,
	}
}

// State returns where the last Discover call ended.
func (d *Discoverer) State() State { return d.state }

// Discover returns the conda environments, from the cache when it is fresh
// and otherwise by running conda. On failure the cached environments are
// returned unchanged alongside the error.
func (d *Discoverer) Discover(ctx context.Context, opts Options) Result {
	doc := d.cache.Document()

	if !opts.Refresh && d.cacheUsable(doc, opts) {
		d.state = Resolved
		d.logger.Info("Using cached conda environments",
			zap.Int("count", len(doc.Environments)),
			zap.Time("refreshed", doc.LastRefreshed))
		return Result{
			State:        Resolved,
			Executable:   doc.CondaExecutable,
			Environments: doc.Environments,
			FromCache:    true,
		}
	}

	d.state = LocatingExecutable
	cached := doc.CondaExecutable
	if opts.Refresh {
		cached = ""
	}
	exe, ok := d.locate(ctx, opts.Executable, cached)
	if !ok {
		return d.fail(doc, "", ErrNotFound)
	}
	d.logger.Info("Found conda", zap.String("executable", exe))

	d.state = EnumeratingEnvironments
	envs, err := d.enumerate(ctx, exe)
	if err != nil {
		return d.fail(doc, exe, err)
	}

	d.cache.ReplaceDiscovery(exe, envs, d.now())
	d.state = Resolved
	res := Result{State: Resolved, Executable: exe, Environments: envs}
	if err := d.cache.Save(); err != nil {
		res.Err = fmt.Errorf("saving conda environments: %w", err)
	}
	return res
}

func (d *Discoverer) cacheUsable(doc cache.Document, opts Options) bool {
	if doc.Empty() {
		return false
	}
	if opts.MaxAge > 0 {
		age := doc.Age(d.now())
		if age < 0 || age >= opts.MaxAge {
			return false
		}
	}
	if opts.Executable != "" && resolvePath(opts.Executable) != doc.CondaExecutable {
		return false
	}
	return true
}

func (d *Discoverer) fail(doc cache.Document, exe string, err error) Result {
	failedIn := d.state
	d.state = Failed
	derr := &DiscoveryError{State: failedIn, Executable: exe, Err: err}
	d.logger.Warn("Conda discovery failed", zap.Error(derr))
	return Result{
		State:        Failed,
		Executable:   doc.CondaExecutable,
		Environments: doc.Environments,
		FromCache:    true,
		Err:          derr,
	}
}

type envList struct {
	Envs []string `json:"envs"`
}

// enumerate runs "conda env list --json" and maps every environment with
// an interpreter to a unique label.
func (d *Discoverer) enumerate(ctx context.Context, exe string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	res, err := d.runner.Run(ctx, exe, "env", "list", "--json")
	if err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}

	var list envList
	if err := json.Unmarshal(res.Stdout, &list); err != nil {
		return nil, fmt.Errorf("parsing environment list: %w", err)
	}

	root := rootPrefix(exe)
	envs := make(map[string]string, len(list.Envs))
	for i, dir := range list.Envs {
		d.logger.Info(fmt.Sprintf("Scanning conda environment %d/%d", i+1, len(list.Envs)),
			zap.String("path", dir))

		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			d.logger.Warn("Skipping missing conda environment", zap.String("path", dir))
			continue
		}
		python, ok := d.interpreter(dir)
		if !ok {
			d.logger.Warn("Skipping conda environment without python", zap.String("path", dir))
			continue
		}

		label := filepath.Base(dir)
		if resolvePath(dir) == root {
			label = "base"
		}
		envs[uniqueLabel(envs, label)] = python
	}
	return envs, nil
}

// rootPrefix is the installation directory of a conda executable such as
// <root>/bin/conda or <root>/condabin/conda.
func rootPrefix(exe string) string {
	return resolvePath(filepath.Dir(filepath.Dir(exe)))
}

func (d *Discoverer) interpreter(envDir string) (string, bool) {
	candidates := []string{
		filepath.Join(envDir, "bin", "python"),
		filepath.Join(envDir, "python"),
	}
	if d.goos == "windows" {
		candidates = []string{
			filepath.Join(envDir, "python.exe"),
			filepath.Join(envDir, "Scripts", "python.exe"),
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

func uniqueLabel(taken map[string]string, label string) string {
	if _, ok := taken[label]; !ok {
		return label
	}
	for n := 2; ; n++ {
		candidate := label + "-" + strconv.Itoa(n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
