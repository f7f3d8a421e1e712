// Package history stores past check runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/frederic-klein/pyenvcheck/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	started_at        INTEGER NOT NULL,
	requirements      TEXT NOT NULL,
	requirement_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	label          TEXT NOT NULL,
	interpreter    TEXT NOT NULL,
	python_version TEXT NOT NULL DEFAULT '',
	compatibility  REAL NOT NULL,
	matched        TEXT NOT NULL DEFAULT '[]',
	missing        TEXT NOT NULL DEFAULT '[]',
	mismatched     TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// Run is one recorded check.
type Run struct {
	ID               string
	StartedAt        time.Time
	Requirements     string // requirements file that was checked
	RequirementCount int
	Results          []Result
}

// Result is the stored outcome for one environment.
type Result struct {
	Label         string
	Interpreter   string
	PythonVersion string
	Compatibility float64
	Matched       []string
	Missing       []string
	Mismatched    []string // "name (installed X, requires OPV)"
}

// FromReport converts a finished check into a Run.
func FromReport(res *report.Result, requirements string, startedAt time.Time) Run {
	run := Run{
		StartedAt:        startedAt,
		Requirements:     requirements,
		RequirementCount: res.RequirementCount,
	}
	for _, env := range res.Reports {
		mismatched := make([]string, len(env.Mismatched))
		for i, m := range env.Mismatched {
			mismatched[i] = fmt.Sprintf("%s (installed %s, requires %s)", m.Name, m.Installed, m.Constraint)
		}
		run.Results = append(run.Results, Result{
			Label:         env.Label,
			Interpreter:   env.InterpreterPath,
			PythonVersion: env.PythonVersion,
			Compatibility: env.Compatibility,
			Matched:       env.Matched,
			Missing:       env.Missing,
			Mismatched:    mismatched,
		})
	}
	return run
}

// Store is an open history database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its tables if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores run in one transaction and returns its id. A run without
// an id gets a new random one.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, requirements, requirement_count) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.Requirements, run.RequirementCount); err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}

	for i, r := range run.Results {
		matched, _ := json.Marshal(nonNil(r.Matched))
		missing, _ := json.Marshal(nonNil(r.Missing))
		mismatched, _ := json.Marshal(nonNil(r.Mismatched))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (run_id, position, label, interpreter, python_version,
			 compatibility, matched, missing, mismatched) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, r.Label, r.Interpreter, r.PythonVersion, r.Compatibility,
			string(matched), string(missing), string(mismatched)); err != nil {
			return "", fmt.Errorf("recording result for %s: %w", r.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return run.ID, nil
}

// Recent returns up to limit runs, newest first, with their results.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, requirements, requirement_count
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		if err := rows.Scan(&r.ID, &startedAt, &r.Requirements, &r.RequirementCount); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, startedAt).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		results, err := s.results(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Results = results
	}
	return runs, nil
}

func (s *Store) results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, interpreter, python_version, compatibility, matched, missing, mismatched
		 FROM results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing results of %s: %w", runID, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var matched, missing, mismatched string
		if err := rows.Scan(&r.Label, &r.Interpreter, &r.PythonVersion, &r.Compatibility,
			&matched, &missing, &mismatched); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(matched), &r.Matched)
		json.Unmarshal([]byte(missing), &r.Missing)
		json.Unmarshal([]byte(mismatched), &r.Mismatched)
		results = append(results, r)
	}
	return results, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
