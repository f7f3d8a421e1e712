// Package cache persists discovered conda environments and manually
// registered interpreters between runs.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the cache file inside the pyenvcheck directory.
const FileName = "cache.yaml"

// Document is the on-disk cache.
type Document struct {
	CondaExecutable string            `yaml:"conda_executable,omitempty"`
	Environments    map[string]string `yaml:"environments,omitempty"` // label -> interpreter
	Interpreters    map[string]string `yaml:"interpreters,omitempty"` // manual registrations
	LastRefreshed   time.Time         `yaml:"last_refreshed,omitempty"`
}

// Empty reports whether no conda discovery has been recorded.
func (d Document) Empty() bool {
	return len(d.Environments) == 0
}

// Age returns how long ago the environments were refreshed, or -1 if
// never.
func (d Document) Age(now time.Time) time.Duration {
	if d.LastRefreshed.IsZero() {
		return -1
	}
	return now.Sub(d.LastRefreshed)
}

// CorruptionError reports a cache file that exists but could not be read.
// The handle continues with an empty document.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("ignoring unreadable cache %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Handle owns one cache file. It is not safe for concurrent use.
type Handle struct {
	path  string
	doc   Document
	dirty bool
}

// New creates a handle for path without reading it.
func New(path string) *Handle {
	return &Handle{path: path, doc: emptyDocument()}
}

func emptyDocument() Document {
	return Document{
		Environments: map[string]string{},
		Interpreters: map[string]string{},
	}
}

// Path returns the cache file location.
func (h *Handle) Path() string { return h.path }

// Load reads the cache file. A missing file yields an empty document and
// no error. An unreadable or malformed file also yields an empty document,
// reported as a *CorruptionError.
func (h *Handle) Load() error {
	h.doc = emptyDocument()
	h.dirty = false

	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &CorruptionError{Path: h.path, Err: err}
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &CorruptionError{Path: h.path, Err: err}
	}
	if doc.Environments == nil {
		doc.Environments = map[string]string{}
	}
	if doc.Interpreters == nil {
		doc.Interpreters = map[string]string{}
	}
	h.doc = doc
	return nil
}

// Document returns a copy of the current contents.
func (h *Handle) Document() Document {
	doc := h.doc
	doc.Environments = copyMap(h.doc.Environments)
	doc.Interpreters = copyMap(h.doc.Interpreters)
	return doc
}

// Dirty reports whether there are unsaved changes.
func (h *Handle) Dirty() bool { return h.dirty }

// Register adds or replaces a manual interpreter registration.
func (h *Handle) Register(label, path string) {
	if old, ok := h.doc.Interpreters[label]; ok && old == path {
		return
	}
	h.doc.Interpreters[label] = path
	h.dirty = true
}

// Unregister removes a manual registration and reports whether it existed.
func (h *Handle) Unregister(label string) bool {
	if _, ok := h.doc.Interpreters[label]; !ok {
		return false
	}
	delete(h.doc.Interpreters, label)
	h.dirty = true
	return true
}

// ReplaceDiscovery records the result of a successful conda discovery. The
// environment set replaces the previous one entirely.
func (h *Handle) ReplaceDiscovery(executable string, envs map[string]string, at time.Time) {
	h.doc.CondaExecutable = executable
	h.doc.Environments = copyMap(envs)
	h.doc.LastRefreshed = at.UTC()
	h.dirty = true
}

// Save writes the document if it changed since Load. The file is written
// to a temporary name and renamed into place, so readers see either the
// old or the new contents.
func (h *Handle) Save() error {
	if !h.dirty {
		return nil
	}

	data, err := yaml.Marshal(h.doc)
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(h.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing cache: %w", err)
	}

	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cache: %w", err)
	}

	h.dirty = false
	return nil
}

// Labels returns the keys of m in sorted order.
func Labels(m map[string]string) []string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
