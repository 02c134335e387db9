// Package sqlite provides the embedded single-node progress store.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// FileName is the database file created inside the data directory.
const FileName = "progress.db"

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at dir/progress.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dir, FileName) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS user_progress (
			user_id              TEXT PRIMARY KEY,
			total_xp             INTEGER NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
			level                INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
			category_xp          TEXT NOT NULL DEFAULT '{}',
			category_progress    TEXT NOT NULL DEFAULT '{}',
			achievements         TEXT NOT NULL DEFAULT '[]',
			pending_achievements TEXT NOT NULL DEFAULT '[]',
			version              INTEGER NOT NULL DEFAULT 0,
			created_at           INTEGER NOT NULL,
			updated_at           INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS xp_transactions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES user_progress(user_id) ON DELETE CASCADE,
			token       TEXT NOT NULL,
			source      TEXT NOT NULL,
			action      TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT '',
			amount      INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reversal_of TEXT NOT NULL DEFAULT '',
			occurred_at INTEGER NOT NULL,
			UNIQUE (user_id, token)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_xp_transactions_reversal
			ON xp_transactions(user_id, reversal_of) WHERE reversal_of <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_xp_transactions_user_occurred ON xp_transactions(user_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_transactions_occurred ON xp_transactions(occurred_at)`,

		`CREATE TABLE IF NOT EXISTS xp_daily_summaries (
			user_id    TEXT NOT NULL,
			day        TEXT NOT NULL,
			total_xp   INTEGER NOT NULL,
			sources    TEXT NOT NULL DEFAULT '{}',
			categories TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (user_id, day)
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on nil.
func (d *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// uniqueViolation reports a UNIQUE constraint failure and the failing columns.
func uniqueViolation(err error) (string, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return se.Error(), true
	}
	return "", false
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// isReversalConflict tells the reversal index apart from the token key.
func isReversalConflict(msg string) bool {
	return strings.Contains(msg, "reversal_of")
}
