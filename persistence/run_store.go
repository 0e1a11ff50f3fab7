// Package persistence stores the history of fix and ask runs in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned by Get for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// RunKind distinguishes stored runs.
type RunKind string

const (
	RunFix RunKind = "fix"
	RunAsk RunKind = "ask"
)

// RoundSummary is the stored form of one fix round.
type RoundSummary struct {
	Iteration  int    `json:"iteration"`
	Score      int    `json:"score"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Run is one stored invocation.
type Run struct {
	ID         string
	Kind       RunKind
	File       string
	Task       string
	Backend    string
	Model      string
	Iterations int
	Score      int
	Success    bool
	Status     string
	Issues     []string
	Rounds     []RoundSummary
	StartedAt  time.Time
	Duration   time.Duration
}

// RunStore persists runs in a SQLite database.
type RunStore struct {
	db *sql.DB
}

// OpenRunStore opens or creates the database at path.
func OpenRunStore(path string) (*RunStore, error) {
	if path == "" {
		return nil, errors.New("run store path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &RunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *RunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		file TEXT,
		task TEXT,
		backend TEXT,
		model TEXT,
		iterations INTEGER,
		score INTEGER,
		success BOOLEAN,
		status TEXT,
		issues TEXT,
		rounds TEXT,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts run, assigning an id and start time when missing.
func (s *RunStore) Save(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	issues, err := json.Marshal(run.Issues)
	if err != nil {
		return err
	}
	rounds, err := json.Marshal(run.Rounds)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO runs (
		id, kind, file, task, backend, model, iterations, score, success,
		status, issues, rounds, started_at, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		kind=excluded.kind,
		file=excluded.file,
		task=excluded.task,
		backend=excluded.backend,
		model=excluded.model,
		iterations=excluded.iterations,
		score=excluded.score,
		success=excluded.success,
		status=excluded.status,
		issues=excluded.issues,
		rounds=excluded.rounds,
		started_at=excluded.started_at,
		duration_ms=excluded.duration_ms
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(run.Kind),
		run.File,
		run.Task,
		run.Backend,
		run.Model,
		run.Iterations,
		run.Score,
		run.Success,
		run.Status,
		string(issues),
		string(rounds),
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
	)
	return err
}

const selectRun = `SELECT id, kind, file, task, backend, model, iterations, score, success,
	status, issues, rounds, started_at, duration_ms FROM runs`

// Get loads one run by id.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// List returns the most recent runs first. A limit of zero or less returns
// all runs.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	query := selectRun + ` ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Delete removes a run.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run            Run
		kind           string
		file, task     sql.NullString
		backend, model sql.NullString
		status         sql.NullString
		issues, rounds sql.NullString
		durationMS     int64
	)
	if err := row.Scan(&run.ID, &kind, &file, &task, &backend, &model, &run.Iterations, &run.Score,
		&run.Success, &status, &issues, &rounds, &run.StartedAt, &durationMS); err != nil {
		return nil, err
	}
	run.Kind = RunKind(kind)
	run.File, run.Task = file.String, task.String
	run.Backend, run.Model = backend.String, model.String
	run.Status = status.String
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if issues.Valid && issues.String != "" {
		if err := json.Unmarshal([]byte(issues.String), &run.Issues); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
	}
	if rounds.Valid && rounds.String != "" {
		if err := json.Unmarshal([]byte(rounds.String), &run.Rounds); err != nil {
			return nil, fmt.Errorf("decode rounds: %w", err)
		}
	}
	return &run, nil
}
