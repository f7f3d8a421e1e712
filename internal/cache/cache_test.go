package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_LoadMissingFile(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "cache.yaml"))

	require.NoError(t, h.Load())
	doc := h.Document()
	assert.True(t, doc.Empty())
	assert.Empty(t, doc.Interpreters)
	assert.Equal(t, time.Duration(-1), doc.Age(time.Now()))
	assert.False(t, h.Dirty())
}

func TestHandle_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.yaml")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	h := New(path)
	require.NoError(t, h.Load())
	h.Register("py311", "/usr/bin/python3.11")
	h.ReplaceDiscovery("/opt/conda/bin/conda", map[string]string{
		"base": "/opt/conda/bin/python",
		"ml":   "/opt/conda/envs/ml/bin/python",
	}, at)
	require.NoError(t, h.Save())
	assert.False(t, h.Dirty())

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	doc := reloaded.Document()

	assert.Equal(t, "/opt/conda/bin/conda", doc.CondaExecutable)
	assert.Equal(t, map[string]string{
		"base": "/opt/conda/bin/python",
		"ml":   "/opt/conda/envs/ml/bin/python",
	}, doc.Environments)
	assert.Equal(t, map[string]string{"py311": "/usr/bin/python3.11"}, doc.Interpreters)
	assert.True(t, at.Equal(doc.LastRefreshed), "last refreshed = %v", doc.LastRefreshed)
	assert.Equal(t, time.Hour, doc.Age(at.Add(time.Hour)))
}

func TestHandle_SaveWithoutChangesDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	h := New(path)
	require.NoError(t, h.Load())

	require.NoError(t, h.Save())
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	h.Register("a", "/bin/a")
	h.Register("a", "/bin/a")
	require.NoError(t, h.Save())
	assert.FileExists(t, path)
}

func TestHandle_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	h := New(filepath.Join(dir, "cache.yaml"))
	h.Register("a", "/bin/a")
	require.NoError(t, h.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache.yaml", entries[0].Name())
}

func TestHandle_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environments: [unterminated\n"), 0644))

	h := New(path)
	err := h.Load()
	require.Error(t, err)

	var corrupt *CorruptionError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, path, corrupt.Path)
	assert.True(t, h.Document().Empty())

	// The handle stays usable and overwrites the bad file on save.
	h.Register("a", "/bin/a")
	require.NoError(t, h.Save())
	require.NoError(t, New(path).Load())
}

func TestHandle_Unregister(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "cache.yaml"))
	h.Register("a", "/bin/a")
	require.NoError(t, h.Save())

	assert.False(t, h.Unregister("missing"))
	assert.False(t, h.Dirty())
	assert.True(t, h.Unregister("a"))
	assert.True(t, h.Dirty())
	assert.Empty(t, h.Document().Interpreters)
}

func TestHandle_ReplaceDiscoveryReplacesWholeSet(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "cache.yaml"))
	h.ReplaceDiscovery("/c", map[string]string{"old": "/old/python", "keep": "/keep/python"}, time.Now())
	h.ReplaceDiscovery("/c", map[string]string{"keep": "/keep/python"}, time.Now())

	assert.Equal(t, map[string]string{"keep": "/keep/python"}, h.Document().Environments)
}

func TestHandle_DocumentIsACopy(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "cache.yaml"))
	h.Register("a", "/bin/a")

	doc := h.Document()
	doc.Interpreters["b"] = "/bin/b"

	assert.Equal(t, map[string]string{"a": "/bin/a"}, h.Document().Interpreters)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Labels(map[string]string{"c": "", "a": "", "b": ""}))
	assert.Empty(t, Labels(nil))
}
