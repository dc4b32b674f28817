package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

// SQLiteStore persists Seen in a SQLite database. Save runs in a single
// transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_posts (
		scope TEXT NOT NULL,
		post_id TEXT NOT NULL,
		seen_at DATETIME NOT NULL,
		PRIMARY KEY (scope, post_id)
	);

	CREATE TABLE IF NOT EXISTS scope_runs (
		scope TEXT PRIMARY KEY,
		last_run DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_seen_posts_seen_at ON seen_posts(scope, seen_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// corrupt maps SQLite's damaged-file errors to StateCorruptError.
func (s *SQLiteStore) corrupt(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") {
		return &domain.StateCorruptError{Path: s.path, Err: err}
	}
	return err
}

// Load reads every scope from the database.
func (s *SQLiteStore) Load(ctx context.Context) (*Seen, error) {
	if err := s.migrate(ctx); err != nil {
		return nil, s.corrupt(fmt.Errorf("migrate: %w", err))
	}
	seen := NewSeen()

	rows, err := s.db.QueryContext(ctx, `SELECT scope, post_id, seen_at FROM seen_posts ORDER BY seen_at, rowid`)
	if err != nil {
		return nil, s.corrupt(err)
	}
	defer rows.Close()
	for rows.Next() {
		var scope, id string
		var at time.Time
		if err := rows.Scan(&scope, &id, &at); err != nil {
			return nil, &domain.StateCorruptError{Path: s.path, Err: err}
		}
		seen.load(domain.Scope(scope), id, at)
	}
	if err := rows.Err(); err != nil {
		return nil, s.corrupt(err)
	}

	runs, err := s.db.QueryContext(ctx, `SELECT scope, last_run FROM scope_runs`)
	if err != nil {
		return nil, s.corrupt(err)
	}
	defer runs.Close()
	for runs.Next() {
		var scope string
		var at time.Time
		if err := runs.Scan(&scope, &at); err != nil {
			return nil, &domain.StateCorruptError{Path: s.path, Err: err}
		}
		seen.MarkRun(domain.Scope(scope), at)
	}
	if err := runs.Err(); err != nil {
		return nil, s.corrupt(err)
	}
	return seen, nil
}

// Save replaces the stored IDs of every scope in s in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, seen *Seen) error {
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO seen_posts (scope, post_id, seen_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, scope := range seen.Scopes() {
		entries, lastRun := seen.snapshot(scope)
		if _, err := tx.ExecContext(ctx, `DELETE FROM seen_posts WHERE scope = ?`, string(scope)); err != nil {
			return fmt.Errorf("clear %s: %w", scope, err)
		}
		for _, e := range entries {
			at := e.seenAt
			if at.IsZero() {
				at = lastRun
			}
			if _, err := ins.ExecContext(ctx, string(scope), e.id, at.UTC()); err != nil {
				return fmt.Errorf("insert %s/%s: %w", scope, e.id, err)
			}
		}
		if !lastRun.IsZero() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO scope_runs (scope, last_run) VALUES (?, ?)
				ON CONFLICT(scope) DO UPDATE SET last_run = excluded.last_run
			`, string(scope), lastRun.UTC()); err != nil {
				return fmt.Errorf("mark %s: %w", scope, err)
			}
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
