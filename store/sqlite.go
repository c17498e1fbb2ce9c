package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps all run snapshots in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-machine inference runs that must survive restarts
//   - Prototyping before moving to a shared MySQL store
//
// SQLiteStore enables WAL mode so snapshot reads (dashboards, inspection
// tools) do not block the writer.
//
// Type parameter S is the snapshot type (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./runs.db" - file in current directory
//   - "/var/lib/delfi/runs.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and schema, enables
// WAL mode, and sets a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore[*inference.Snapshot]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS run_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, round)
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_snapshots table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_snapshots_run_id ON run_snapshots(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_snapshots_run_id: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Save persists a round snapshot (implements Store interface).
//
// Saving the same (runID, round) again replaces the stored snapshot.
// Thread-safe for concurrent writes.
func (s *SQLiteStore[S]) Save(ctx context.Context, runID string, round int, state S) error {
	if err := s.guard(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO run_snapshots (run_id, round, state)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, round) DO UPDATE SET
			state = excluded.state
	`
	if _, err := s.db.ExecContext(ctx, query, runID, round, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load retrieves one round's snapshot (implements Store interface).
func (s *SQLiteStore[S]) Load(ctx context.Context, runID string, round int) (S, error) {
	var zero S
	if err := s.guard(); err != nil {
		return zero, err
	}

	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM run_snapshots WHERE run_id = ? AND round = ?",
		runID, round).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, nil
}

// LoadLatest retrieves the highest-round snapshot of a run (implements
// Store interface).
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S
	if err := s.guard(); err != nil {
		return zero, 0, err
	}

	var (
		round     int
		stateJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT round, state
		FROM run_snapshots
		WHERE run_id = ?
		ORDER BY round DESC
		LIMIT 1
	`, runID).Scan(&round, &stateJSON)
	if err == sql.ErrNoRows {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, round, nil
}

// Rounds lists the persisted rounds of a run in ascending order
// (implements Store interface).
func (s *SQLiteStore[S]) Rounds(ctx context.Context, runID string) ([]int, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT round FROM run_snapshots WHERE run_id = ? ORDER BY round ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rounds: %w", err)
	}
	return out, nil
}

// Delete removes all snapshots of a run (implements Store interface).
func (s *SQLiteStore[S]) Delete(ctx context.Context, runID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM run_snapshots WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close releases the database connection. Operations after Close return
// an error.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
