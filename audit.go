// audit.go: Audit trail for registry rebuilds, guard rejections and cache flushes
//
// Events are buffered and written in batches to a pluggable backend. Each
// event carries a SHA-256 checksum over its content for tamper detection.
// All methods are no-ops on a nil or disabled logger.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// AuditEvent is one audited occurrence.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     AuditLevel     `json:"level"`
	Event     string         `json:"event"`
	Component string         `json:"component"`
	Subject   string         `json:"subject,omitempty"`
	ProcessID int            `json:"process_id"`
	Context   map[string]any `json:"context,omitempty"`
	Checksum  string         `json:"checksum"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// OutputFile ending in .jsonl selects the JSON lines backend; anything
	// else is a SQLite database. Empty uses <tmp>/janus/audit.db.
	OutputFile    string        `yaml:"output_file"`
	MinLevel      AuditLevel    `yaml:"min_level"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultAuditConfig returns a disabled configuration with sane buffering.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		MinLevel:      AuditInfo,
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger buffers events and writes them to its backend.
type AuditLogger struct {
	config    AuditConfig
	backend   auditBackend
	mu        sync.Mutex
	buffer    []AuditEvent
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeOnce sync.Once
	processID int
}

// NewAuditLogger creates an audit logger over the backend selected by the
// output file name:
//   - *.jsonl outputs append one JSON event per line
//   - any other output is a SQLite database with a versioned schema
//
// Events are buffered and written when the buffer fills, on every
// FlushInterval tick and on Close. A disabled configuration returns a nil
// logger; every method of a nil *AuditLogger is a no-op, so callers never
// need to check it.
//
// Parameters:
//   - config: audit configuration; a non-positive BufferSize takes the default
//
// Returns:
//   - the logger, or nil when auditing is disabled
//   - a JANUS_INVALID_CONFIG error if the backend cannot be opened
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if !config.Enabled {
		return nil, nil
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultAuditConfig().BufferSize
	}
	backend, err := newAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "cannot open audit backend").
			WithContext("output", config.OutputFile)
	}

	al := &AuditLogger{
		config:    config,
		backend:   backend,
		buffer:    make([]AuditEvent, 0, config.BufferSize),
		stopCh:    make(chan struct{}),
		processID: os.Getpid(),
	}
	if config.FlushInterval > 0 {
		al.ticker = time.NewTicker(config.FlushInterval)
		go al.flushLoop()
	}
	return al, nil
}

// Log records an event.
func (al *AuditLogger) Log(level AuditLevel, event, subject string, context map[string]any) {
	if al == nil || level < al.config.MinLevel {
		return
	}
	ev := AuditEvent{
		Timestamp: timecache.CachedTime(),
		Level:     level,
		Event:     event,
		Component: "janus",
		Subject:   subject,
		ProcessID: al.processID,
		Context:   context,
	}
	ev.Checksum = checksum(ev)

	al.mu.Lock()
	al.buffer = append(al.buffer, ev)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushLocked()
	}
	al.mu.Unlock()
}

// LogRegistryRebuild records a registry rescan.
func (al *AuditLogger) LogRegistryRebuild(path, reason string, count int) {
	al.Log(AuditWarn, "registry_rebuild", path, map[string]any{"reason": reason, "count": count})
}

// LogDocumentDiscarded records the deletion of an unusable registry document.
func (al *AuditLogger) LogDocumentDiscarded(path, reason string) {
	al.Log(AuditCritical, "registry_discarded", path, map[string]any{"reason": reason})
}

// LogGuardRejection records a rejected invocation.
func (al *AuditLogger) LogGuardRejection(identity, method string, reasons []string) {
	al.Log(AuditSecurity, "guard_rejection", identity+"::"+method, map[string]any{"reasons": reasons})
}

// LogCacheFlush records a durable cache write.
func (al *AuditLogger) LogCacheFlush(entries int, deleted bool) {
	al.Log(AuditInfo, "cache_flush", "", map[string]any{"entries": entries, "deleted": deleted})
}

// Flush writes buffered events now.
func (al *AuditLogger) Flush() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.flushLocked()
}

// Close flushes and releases the backend. It is safe to call twice.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var err error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.ticker != nil {
			al.ticker.Stop()
		}
		if ferr := al.Flush(); ferr != nil {
			err = ferr
		}
		if cerr := al.backend.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.ticker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushLocked requires al.mu.
func (al *AuditLogger) flushLocked() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeStoreIO, "cannot write audit events")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// checksum hashes the event content with context keys in sorted order.
func checksum(ev AuditEvent) string {
	keys := make([]string, 0, len(ev.Context))
	for k := range ev.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s", ev.Timestamp.Format(time.RFC3339Nano), ev.Level, ev.Event, ev.Component, ev.Subject)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, ev.Context[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether ev still matches its checksum.
func VerifyChecksum(ev AuditEvent) bool {
	return ev.Checksum == checksum(ev)
}

func defaultAuditPath() string {
	return filepath.Join(os.TempDir(), "janus", "audit.db")
}
