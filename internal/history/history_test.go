package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/pyenvcheck/internal/compat"
	"github.com/frederic-klein/pyenvcheck/internal/report"
	"github.com/frederic-klein/pyenvcheck/internal/requirement"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport() *report.Result {
	return &report.Result{
		RequirementCount: 3,
		Reports: []compat.EnvironmentReport{
			{
				Label:           "current",
				InterpreterPath: "/usr/bin/python3",
				PythonVersion:   "3.11.4",
				Matched:         []string{"numpy"},
				Missing:         []string{"requests"},
				Mismatched: []compat.Mismatch{{
					Name: "pandas", Installed: "1.5.3",
					Constraint: requirement.Specifier{Op: "==", Version: "2.0.0"},
				}},
				Compatibility: 100.0 / 3,
			},
			{
				Label:           "ml",
				InterpreterPath: "/opt/conda/envs/ml/bin/python",
				Matched:         []string{"numpy", "pandas", "requests"},
				Compatibility:   100,
			},
		},
	}
}

func TestFromReport(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	run := FromReport(sampleReport(), "requirements.txt", at)

	assert.Equal(t, at, run.StartedAt)
	assert.Equal(t, "requirements.txt", run.Requirements)
	assert.Equal(t, 3, run.RequirementCount)
	require.Len(t, run.Results, 2)
	assert.Equal(t, []string{"pandas (installed 1.5.3, requires ==2.0.0)"}, run.Results[0].Mismatched)
	assert.Empty(t, run.Results[1].Mismatched)
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	id, err := s.Record(ctx, FromReport(sampleReport(), "requirements.txt", at))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "run ids are UUIDs")

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, id, run.ID)
	assert.True(t, at.Equal(run.StartedAt))
	assert.Equal(t, 3, run.RequirementCount)
	require.Len(t, run.Results, 2)

	first := run.Results[0]
	assert.Equal(t, "current", first.Label)
	assert.Equal(t, "/usr/bin/python3", first.Interpreter)
	assert.Equal(t, "3.11.4", first.PythonVersion)
	assert.InDelta(t, 33.333, first.Compatibility, 0.001)
	assert.Equal(t, []string{"numpy"}, first.Matched)
	assert.Equal(t, []string{"requests"}, first.Missing)
	assert.Equal(t, []string{"pandas (installed 1.5.3, requires ==2.0.0)"}, first.Mismatched)

	second := run.Results[1]
	assert.Equal(t, "ml", second.Label)
	assert.Equal(t, []string{}, second.Missing)
}

func TestStore_RecentNewestFirstWithLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, Run{
			ID:           string(rune('a' + i)),
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
			Requirements: "r.txt",
		})
		require.NoError(t, err)
	}

	runs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "e", runs[0].ID)
	assert.Equal(t, "d", runs[1].ID)
	assert.Equal(t, "c", runs[2].ID)
	assert.Empty(t, runs[0].Results)
}

func TestStore_DuplicateIDRollsBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run := Run{ID: "fixed", StartedAt: time.Now(), Requirements: "r.txt"}

	_, err := s.Record(ctx, run)
	require.NoError(t, err)

	run.Results = []Result{{Label: "x", Interpreter: "/x"}}
	_, err = s.Record(ctx, run)
	require.Error(t, err)

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].Results)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Record(ctx, Run{StartedAt: time.Now(), Requirements: "r.txt"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
