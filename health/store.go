package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS health_snapshots (
	context  TEXT    NOT NULL,
	taken_at INTEGER NOT NULL,
	metric   TEXT    NOT NULL,
	value    INTEGER NOT NULL,
	PRIMARY KEY (context, taken_at, metric)
);
CREATE INDEX IF NOT EXISTS idx_health_snapshots_taken ON health_snapshots(taken_at);
`

// Store persists monitor snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path with WAL,
// busy_timeout and synchronous=NORMAL. ":memory:" is accepted for tests.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("health: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("health: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("health: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("health: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save writes every counter of m at time at in one transaction.
func (s *Store) Save(ctx context.Context, m *Monitor, at time.Time) error {
	snap := m.Snapshot()
	return s.runTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO health_snapshots (context, taken_at, metric, value) VALUES (?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("health: prepare: %w", err)
		}
		defer stmt.Close()
		for k, v := range snap {
			if _, err := stmt.ExecContext(ctx, m.Name(), at.UnixMilli(), k, v); err != nil {
				return fmt.Errorf("health: insert %s: %w", k, err)
			}
		}
		return nil
	})
}

// ErrNoSnapshot is returned by Latest when a context was never saved.
var ErrNoSnapshot = errors.New("health: no snapshot")

// Latest returns the most recent snapshot of a context.
func (s *Store) Latest(ctx context.Context, name string) (map[string]int64, time.Time, error) {
	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(taken_at) FROM health_snapshots WHERE context = ?`, name).Scan(&latest); err != nil {
		return nil, time.Time{}, fmt.Errorf("health: latest: %w", err)
	}
	if !latest.Valid {
		return nil, time.Time{}, ErrNoSnapshot
	}
	ms := latest.Int64

	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, value FROM health_snapshots WHERE context = ? AND taken_at = ?`, name, ms)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("health: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, time.Time{}, fmt.Errorf("health: scan: %w", err)
		}
		out[k] = v
	}
	return out, time.UnixMilli(ms), rows.Err()
}

// Contexts lists the context names that have snapshots.
func (s *Store) Contexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT context FROM health_snapshots ORDER BY context`)
	if err != nil {
		return nil, fmt.Errorf("health: contexts: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("health: scan: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Cleanup deletes snapshots taken before cutoff and returns the rows removed.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM health_snapshots WHERE taken_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("health: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// runTx runs fn in a transaction, retrying up to three times on SQLITE_BUSY.
func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	const attempts = 3
	var err error
	for i := range attempts {
		if err = s.txOnce(ctx, fn); err == nil || !isBusy(err) {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (s *Store) txOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("health: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("health: commit: %w", err)
	}
	return nil
}
