// Package store provides the SQLite-backed persistent store for SpecFlow.
// It is the sole authority over specs, tasks, completion specs, the agent
// registry, ralph loops and execution logs, and mirrors every spec/task
// mutation into the project's JSONL change log.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/specflow/specflow/internal/changelog"
	"github.com/specflow/specflow/internal/errs"
)

// Store wraps an SQLite database connection with SpecFlow operations.
// Writes are serialized by a mutex; reads may run concurrently (WAL mode).
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex

	// log mirrors spec/task mutations when non-nil. Appends happen inside
	// the write transaction; an append failure rolls the transaction back.
	log *changelog.Log
	// mirror toggles change-log appends; cleared during ImportChanges so
	// a replay does not re-append its own records.
	mirror bool
}

// Open opens the SQLite database at the given path, creating parent
// directories if needed, and applies pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode allows concurrent readers while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// SetChangeLog attaches the JSONL change log that mirrors spec/task
// mutations. Passing nil disables mirroring.
func (s *Store) SetChangeLog(log *changelog.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
	s.mirror = log != nil
}

// ChangeLog returns the attached change log, or nil.
func (s *Store) ChangeLog() *changelog.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations in order.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if current > len(migrations) {
		return errs.New(errs.KindStoreCorruption,
			"database schema version %d is newer than this build supports (%d)",
			current, len(migrations))
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.version, formatTime(time.Now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

var migrations = []struct {
	version int
	sql     string
}{
	{1, migrationV1Base},
	{2, migrationV2Statuses},
	{3, migrationV3Agents},
	{4, migrationV4Completion},
}

const migrationV1Base = `
CREATE TABLE IF NOT EXISTS specs (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	source_type TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_specs_status ON specs(status);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	spec_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'todo',
	priority INTEGER NOT NULL DEFAULT 2,
	dependencies TEXT NOT NULL DEFAULT '[]',
	assignee TEXT,
	worktree TEXT,
	iteration INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	FOREIGN KEY (spec_id) REFERENCES specs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_spec_id ON tasks(spec_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at);

CREATE TABLE IF NOT EXISTS execution_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	action TEXT NOT NULL,
	output TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL DEFAULT 1,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_task_id ON execution_logs(task_id);
CREATE INDEX IF NOT EXISTS idx_execution_logs_agent_type ON execution_logs(agent_type);
`

// Legacy deployments used a wider status vocabulary; fold it into the
// five-value workflow set.
const migrationV2Statuses = `
UPDATE tasks SET status = 'todo' WHERE status IN ('pending', 'ready', 'failed', 'blocked');
UPDATE tasks SET status = 'implementing' WHERE status = 'in_progress';
UPDATE tasks SET status = 'reviewing' WHERE status IN ('review', 'qa');
UPDATE tasks SET status = 'done' WHERE status = 'completed';
`

const migrationV3Agents = `
CREATE TABLE IF NOT EXISTS active_agents (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL UNIQUE,
	agent_type TEXT NOT NULL,
	slot INTEGER NOT NULL UNIQUE,
	pid INTEGER,
	worktree TEXT,
	started_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_active_agents_task_id ON active_agents(task_id);

CREATE TABLE IF NOT EXISTS ralph_loops (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	iteration INTEGER NOT NULL DEFAULT 0,
	max_iterations INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	verification_results TEXT NOT NULL DEFAULT '[]',
	started_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_ralph_loops_task_id ON ralph_loops(task_id);
CREATE INDEX IF NOT EXISTS idx_ralph_loops_status ON ralph_loops(status);
`

const migrationV4Completion = `
CREATE TABLE IF NOT EXISTS task_completion_specs (
	task_id TEXT PRIMARY KEY,
	outcome TEXT NOT NULL DEFAULT '',
	acceptance_criteria TEXT NOT NULL DEFAULT '[]',
	FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS task_role_criteria (
	task_id TEXT NOT NULL,
	role TEXT NOT NULL,
	promise TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	verification_method TEXT NOT NULL DEFAULT 'string_match',
	command TEXT NOT NULL DEFAULT '',
	success_exit_code INTEGER NOT NULL DEFAULT 0,
	stages TEXT NOT NULL DEFAULT '[]',
	max_iterations INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, role),
	FOREIGN KEY (task_id) REFERENCES task_completion_specs(task_id) ON DELETE CASCADE
);
`

// transaction runs fn inside a write transaction, holding the writer lock.
func (s *Store) transaction(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactionLocked(fn)
}

// transactionLocked is transaction without acquiring the lock.
// Caller must hold s.mu.
func (s *Store) transactionLocked(fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
