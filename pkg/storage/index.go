// Package storage holds the on-disk collaborators of the coordination
// layer: the SQLite index database written through the transaction guard
// and the bbolt store behind the graph merge service.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial schema
// 1 - index on content_hash for staleness scans
const currentSchemaVersion = 1

// FileRecord is one indexed source file.
type FileRecord struct {
	Repo        string
	Path        string
	ContentHash string
	IndexedAt   time.Time
	IndexedBy   string
}

// IndexStore is the relational index database.
type IndexStore struct {
	db *sql.DB
}

// OpenIndex creates or opens the index database at path and applies
// pragmas and migrations. Safe to call on an existing database.
func OpenIndex(path string) (*IndexStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite has one writer; the guard serialises us anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &IndexStore{db: db}, nil
}

func (s *IndexStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the handle the transaction guard begins transactions on.
func (s *IndexStore) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_indexed_files_hash ON indexed_files (content_hash)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// UpsertFile records rec inside tx. It is meant to run in a guarded write
// so the row and the commit happen under the database lock.
func UpsertFile(ctx context.Context, tx *sql.Tx, rec FileRecord) error {
	if rec.Repo == "" || rec.Path == "" || rec.ContentHash == "" {
		return fmt.Errorf("index record needs repo, path and hash")
	}
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO indexed_files (repo, path, content_hash, indexed_at, indexed_by)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (repo, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			indexed_at   = excluded.indexed_at,
			indexed_by   = excluded.indexed_by`,
		rec.Repo, rec.Path, rec.ContentHash, rec.IndexedAt.UnixMilli(), rec.IndexedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", rec.Repo, rec.Path, err)
	}
	return nil
}

// LookupHash returns the content hash recorded for repo/path, if any.
func (s *IndexStore) LookupHash(ctx context.Context, repo, path string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM indexed_files WHERE repo = ? AND path = ?`, repo, path,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s/%s: %w", repo, path, err)
	}
	return hash, true, nil
}

// Files lists the records of repo ordered by path.
func (s *IndexStore) Files(ctx context.Context, repo string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, path, content_hash, indexed_at, indexed_by
		FROM indexed_files WHERE repo = ? ORDER BY path`, repo)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", repo, err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		var ms int64
		if err := rows.Scan(&rec.Repo, &rec.Path, &rec.ContentHash, &ms, &rec.IndexedBy); err != nil {
			return nil, err
		}
		rec.IndexedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}
