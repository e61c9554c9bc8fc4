package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/capq/internal/tasks"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	job         TEXT NOT NULL,
	backend     TEXT NOT NULL,
	limits      TEXT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	completed   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	discarded   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	task_id     TEXT NOT NULL,
	set_name    TEXT NOT NULL,
	actor       TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	ok          INTEGER NOT NULL,
	value       TEXT,
	error       TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id);
`

// SQLiteStore keeps runs and entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) BeginRun(ctx context.Context, run Run) error {
	limits, err := json.Marshal(run.Limits)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job, backend, limits, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Job, run.Backend, string(limits), run.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, runID string, r tasks.Result) error {
	e := NewEntry(r)
	var value sql.NullString
	if e.Value != nil {
		value = sql.NullString{String: string(e.Value), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (run_id, task_id, set_name, actor, actor_id, ok, value, error, attempts, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.TaskID, e.Set, e.Actor, e.ActorID, e.OK, value, e.Error, e.Attempts,
		e.StartedAt.UnixNano(), e.FinishedAt.UnixNano())
	if err != nil {
		if !s.exists(ctx, runID) {
			return fmt.Errorf("record %s: %w", runID, ErrRunNotFound)
		}
		return fmt.Errorf("record %s: %w", runID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, sum Summary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, completed = ?, failed = ?, discarded = ?, error = ? WHERE id = ?`,
		time.Now().UnixNano(), sum.Completed, sum.Failed, sum.Discarded, sum.Error, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, backend, limits, started_at, finished_at, completed, failed, discarded, error
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			limits   sql.NullString
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Job, &run.Backend, &limits, &started, &finished,
			&run.Summary.Completed, &run.Summary.Failed, &run.Summary.Discarded, &run.Summary.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started)
		if finished.Valid {
			t := time.Unix(0, finished.Int64)
			run.FinishedAt = &t
		}
		if limits.Valid && limits.String != "null" {
			if err := json.Unmarshal([]byte(limits.String), &run.Limits); err != nil {
				return nil, fmt.Errorf("decode limits of %s: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Entries(ctx context.Context, runID string) ([]Entry, error) {
	if !s.exists(ctx, runID) {
		return nil, fmt.Errorf("entries %s: %w", runID, ErrRunNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, set_name, actor, actor_id, ok, value, error, attempts, started_at, finished_at
		 FROM entries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			value             sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&e.TaskID, &e.Set, &e.Actor, &e.ActorID, &e.OK, &value, &e.Error,
			&e.Attempts, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if value.Valid {
			e.Value = json.RawMessage(value.String)
		}
		e.StartedAt = time.Unix(0, started)
		e.FinishedAt = time.Unix(0, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) exists(ctx context.Context, runID string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	return err == nil
}
