package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for:
//   - Simulation campaigns spread over several machines sharing one
//     database
//   - Long-running inference that must survive process restarts
//   - Keeping an audit trail of every round of every run
//
// MySQLStore uses connection pooling; a single instance can be shared
// across goroutines.
//
// Type parameter S is the snapshot type (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/delfi
//	user:password@tcp(127.0.0.1:3306)/delfi?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment
//	variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    if dsn == "" {
//	        log.Fatal("MYSQL_DSN environment variable not set")
//	    }
//	    st, err := store.NewMySQLStore[*inference.Snapshot](dsn)
//
// The store automatically creates the required table and configures the
// connection pool.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS run_snapshots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			round INT NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_run_round (run_id, round),
			KEY idx_snapshots_run_id (run_id)
		) ENGINE=InnoDB
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_snapshots table: %w", err)
	}
	return nil
}

func (m *MySQLStore[S]) guard() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Save persists a round snapshot (implements Store interface).
//
// Saving the same (runID, round) again replaces the stored snapshot.
func (m *MySQLStore[S]) Save(ctx context.Context, runID string, round int, state S) error {
	if err := m.guard(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO run_snapshots (run_id, round, state)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state)
	`
	if _, err := m.db.ExecContext(ctx, query, runID, round, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load retrieves one round's snapshot (implements Store interface).
func (m *MySQLStore[S]) Load(ctx context.Context, runID string, round int) (S, error) {
	var zero S
	if err := m.guard(); err != nil {
		return zero, err
	}

	var stateJSON string
	err := m.db.QueryRowContext(ctx,
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
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S
	if err := m.guard(); err != nil {
		return zero, 0, err
	}

	var (
		round     int
		stateJSON string
	)
	err := m.db.QueryRowContext(ctx, `
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
func (m *MySQLStore[S]) Rounds(ctx context.Context, runID string) ([]int, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
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
func (m *MySQLStore[S]) Delete(ctx context.Context, runID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, "DELETE FROM run_snapshots WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close releases the connection pool. Operations after Close return an
// error.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
