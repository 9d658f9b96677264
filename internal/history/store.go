// Package history persists a ledger of completed runs to SQLite. The engine
// itself needs only filesystem timestamps; the ledger exists so `flowmake
// history` can answer what ran, when, and how it ended.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jethrojohnson/flowmake/internal/orchestrator"
)

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID       int64
	Target   string
	Started  time.Time
	Finished time.Time
	Success  bool
}

// TaskRecord is one task's terminal state within a recorded run.
type TaskRecord struct {
	RunID    int64
	Name     string
	Status   string
	Error    string
	Command  string
	Duration time.Duration
}

// Store is a SQLite-backed run ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger at dbPath, creating parent directories
// as needed.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory ledger for tests.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening memory ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		started DATETIME NOT NULL,
		finished DATETIME NOT NULL,
		success INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_results (
		run_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		command TEXT,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, name),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_results_run_id ON task_results(run_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RecordRun writes a run report and its per-task results in one
// transaction, returning the new run id.
func (s *Store) RecordRun(ctx context.Context, report *orchestrator.RunReport) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (target, started, finished, success) VALUES (?, ?, ?, ?)`,
		report.Target, report.Started.UTC(), report.Finished.UTC(), boolToInt(report.Success))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for _, tr := range report.Results {
		errMsg := ""
		if tr.Err != nil {
			errMsg = tr.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_results (run_id, name, status, error, command, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, tr.Name, tr.Status.String(), errMsg, tr.Command, tr.Duration.Milliseconds()); err != nil {
			return 0, fmt.Errorf("insert task result %q: %w", tr.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target, started, finished, success FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var success int
		if err := rows.Scan(&r.ID, &r.Target, &r.Started, &r.Finished, &success); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Success = success != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TaskResults returns the per-task records of one run, by name.
func (s *Store) TaskResults(ctx context.Context, runID int64) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, status, error, command, duration_ms FROM task_results WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	var results []TaskRecord
	for rows.Next() {
		var tr TaskRecord
		var ms int64
		if err := rows.Scan(&tr.RunID, &tr.Name, &tr.Status, &tr.Error, &tr.Command, &ms); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		tr.Duration = time.Duration(ms) * time.Millisecond
		results = append(results, tr)
	}
	return results, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
