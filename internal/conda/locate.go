package conda

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const validateTimeout = 5 * time.Second

// candidates lists possible conda executables in the order they are tried.
func (d *Discoverer) candidates(explicit, cached string) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if cached != "" {
		out = append(out, cached)
	}
	for _, p := range d.searchPaths {
		p = expandHome(p)
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			out = append(out, d.expandDir(p)...)
			continue
		}
		out = append(out, p)
	}
	if exe := d.getenv("CONDA_EXE"); exe != "" {
		out = append(out, exe)
	}
	for _, dir := range filepath.SplitList(d.getenv("PATH")) {
		if dir == "" {
			continue
		}
		for _, name := range d.executableNames() {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return append(out, d.defaultLocations()...)
}

func (d *Discoverer) executableNames() []string {
	if d.goos == "windows" {
		return []string{"conda.exe", "conda.bat", "conda"}
	}
	return []string{"conda"}
}

// expandDir turns an installation directory into the places conda lives
// inside it.
func (d *Discoverer) expandDir(dir string) []string {
	subdirs := []string{"", "bin", "condabin"}
	if d.goos == "windows" {
		subdirs = []string{"", "Scripts", "condabin"}
	}
	var out []string
	for _, sub := range subdirs {
		for _, name := range d.executableNames() {
			out = append(out, filepath.Join(dir, sub, name))
		}
	}
	return out
}

func (d *Discoverer) defaultLocations() []string {
	home := d.home
	if d.goos == "windows" {
		var out []string
		for _, prefix := range []string{
			`C:\ProgramData\Anaconda3`,
			`C:\ProgramData\miniconda3`,
			filepath.Join(home, "Anaconda3"),
			filepath.Join(home, "miniconda3"),
		} {
			out = append(out,
				filepath.Join(prefix, "Scripts", "conda.exe"),
				filepath.Join(prefix, "condabin", "conda.bat"))
		}
		return out
	}
	return []string{
		filepath.Join(home, "miniconda3", "bin", "conda"),
		filepath.Join(home, "anaconda3", "bin", "conda"),
		filepath.Join(home, "miniforge3", "bin", "conda"),
		"/opt/conda/bin/conda",
		"/usr/local/anaconda3/bin/conda",
		"/usr/local/miniconda3/bin/conda",
	}
}

// locate returns the first candidate that exists and answers
// "conda --version".
func (d *Discoverer) locate(ctx context.Context, explicit, cached string) (string, bool) {
	seen := make(map[string]bool)
	for _, candidate := range d.candidates(explicit, cached) {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		resolved := resolvePath(candidate)
		if seen[resolved] {
			continue
		}
		seen[resolved] = true

		if d.validate(ctx, resolved) {
			return resolved, true
		}
		d.logger.Debug("Rejected conda candidate", zap.String("path", resolved))
	}
	return "", false
}

func (d *Discoverer) validate(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	res, err := d.runner.Run(ctx, path, "--version")
	if err != nil {
		return false
	}
	out := strings.ToLower(string(res.Stdout) + string(res.Stderr))
	return strings.Contains(out, "conda")
}

func resolvePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
