// Package db provides local store management: connection setup, the
// acquisition handle, schema migrations and row-level repositories.
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// WAL is truncated back to this size after checkpoints.
const journalSizeLimit = 4 << 20

// DB wraps sqlx.DB with Tourly-specific configuration.
type DB struct {
	*sqlx.DB
	path string
}

// Open opens a SQLite database with Tourly configuration.
// The database is opened with:
// - WAL mode
// - Foreign key constraints enabled
// - Bounded WAL growth (journal_size_limit, wal_autocheckpoint)
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"+
		"&_pragma=journal_size_limit(%d)&_pragma=wal_autocheckpoint(1000)", path, journalSizeLimit)

	conn, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		conn.Close()
		return nil, fmt.Errorf("journal mode is %q, want wal", mode)
	}

	// Reading the schema forces SQLite to parse the file header and catalog,
	// which is where damaged files fail.
	var tables int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&tables); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	return &DB{DB: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	// Best effort; a failed checkpoint leaves the WAL for the next open.
	_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
//
// The pool holds a single connection, so fn must only use tx.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var corruptionSignatures = []string{"corrupt", "malformed", "not a database"}

// IsCorruption reports whether err looks like on-disk corruption of the
// SQLite file, as opposed to a configuration or permission problem.
func IsCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range corruptionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
