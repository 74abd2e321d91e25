// store_sqlite.go: SQLite durable cache store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// sqliteStoreSchemaVersion is the current cache_entries layout.
const sqliteStoreSchemaVersion = 1

// openSQLite opens path in WAL mode with a busy timeout so several
// processes can share the database.
func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ensureSchema creates the version table for component and runs migrate when
// the stored version is older than want.
func ensureSchema(db *sql.DB, component string, want int, migrate func(tx *sql.Tx, from int) error) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
		component TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return err
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_info WHERE component = ?`, component).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if version >= want {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := migrate(tx, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_info (component, version, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		component, want); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SQLiteStore keeps the durable tier in a SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, wrapStoreIO(err, "open").WithContext("path", path)
	}
	err = ensureSchema(db, "cache", sqliteStoreSchemaVersion, func(tx *sql.Tx, from int) error {
		if from < 1 {
			_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
				key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				expires_at INTEGER NOT NULL DEFAULT 0
			)`)
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, wrapStoreIO(err, "migrate").WithContext("path", path)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value, expires_at FROM cache_entries`)
	if err != nil {
		return nil, wrapStoreIO(err, "read")
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]CacheEntry)
	for rows.Next() {
		var key string
		var e CacheEntry
		if err := rows.Scan(&key, &e.Value, &e.ExpiresAt); err != nil {
			return nil, newCorruption("cannot scan cache row").WithContext("path", s.path)
		}
		out[key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreIO(err, "read")
	}
	return out, nil
}

// Save implements Store by replacing every row in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, entries map[string]CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreIO(err, "begin")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		_ = tx.Rollback()
		return wrapStoreIO(err, "write")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return wrapStoreIO(err, "write")
	}
	defer func() { _ = stmt.Close() }()
	for k, e := range entries {
		if _, err := stmt.ExecContext(ctx, k, e.Value, e.ExpiresAt); err != nil {
			_ = tx.Rollback()
			return wrapStoreIO(err, "write")
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreIO(err, "commit")
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return wrapStoreIO(err, "delete")
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
