// Package persistence records run history: one row per run, one row per
// task result, in a local SQLite database. History feeds the `history`
// command; the runner itself never reads it back during a run.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one orchestrator invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Failed     int
	TimedOut   int
}

// TaskRecord is the persisted outcome of one build task.
type TaskRecord struct {
	RunID      string
	TaskName   string
	Status     string
	DurationMS int64
	Error      string
	Artifacts  int
}

// Store defines the persistence interface for run history.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	SaveTaskRecords(ctx context.Context, records []TaskRecord) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetTaskRecords(ctx context.Context, runID string) ([]TaskRecord, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at the given path,
// creating parent directories if needed. Enables WAL mode and a busy
// timeout so concurrent invocations on the same host don't trip over
// each other.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory store for testing. A shared cache
// lets multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared")
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite needs foreign keys enabled via PRAGMA.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
