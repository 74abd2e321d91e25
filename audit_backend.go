// audit_backend.go: JSONL and SQLite backends for the audit trail
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// auditBackend persists batches of audit events.
type auditBackend interface {
	Write(events []AuditEvent) error
	Close() error
}

// newAuditBackend picks JSONL for *.jsonl outputs and SQLite otherwise.
func newAuditBackend(config AuditConfig) (auditBackend, error) {
	path := config.OutputFile
	if path == "" {
		path = defaultAuditPath()
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return newJSONLAuditBackend(path)
	}
	return newSQLiteAuditBackend(path)
}

// auditSchemaVersion is the current audit_events layout.
const auditSchemaVersion = 1

type sqliteAuditBackend struct {
	db *sql.DB
	mu sync.Mutex
}

func newSQLiteAuditBackend(path string) (*sqliteAuditBackend, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	err = ensureSchema(db, "audit", auditSchemaVersion, func(tx *sql.Tx, from int) error {
		if from >= 1 {
			return nil
		}
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS audit_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL,
				level TEXT NOT NULL,
				event TEXT NOT NULL,
				component TEXT NOT NULL,
				subject TEXT,
				process_id INTEGER,
				context TEXT,
				checksum TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_events(event, timestamp)`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteAuditBackend{db: db}, nil
}

func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_events
		(timestamp, level, event, component, subject, process_id, context, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		var contextJSON []byte
		if len(ev.Context) > 0 {
			if contextJSON, err = json.Marshal(ev.Context); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		if _, err := stmt.Exec(ev.Timestamp.Format(time.RFC3339Nano), ev.Level.String(), ev.Event,
			ev.Component, ev.Subject, ev.ProcessID, string(contextJSON), ev.Checksum); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type jsonlAuditBackend struct {
	mu   sync.Mutex
	file *os.File
}

func newJSONLAuditBackend(path string) (*jsonlAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, err
	}
	return &jsonlAuditBackend{file: f}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	w := bufio.NewWriter(j.file)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
