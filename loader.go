// loader.go: Registry document loading, freshness validation and rebuild
//
// Production trusts a persisted document whose schema version matches.
// Development additionally compares critical files and the handler tree
// against the document mtime, stopping at the first newer file. Corrupt or
// outdated documents are discarded and rebuilt, never reported to callers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	goerrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar"
	"golang.org/x/sync/singleflight"
)

// LoadReason explains why a document was not accepted as is.
type LoadReason string

const (
	ReasonNone     LoadReason = ""
	ReasonMissing  LoadReason = "missing"
	ReasonCorrupt  LoadReason = "corrupt"
	ReasonVersion  LoadReason = "version"
	ReasonStale    LoadReason = "stale"
	ReasonOrphaned LoadReason = "orphaned"
)

// LoadStatus describes the outcome of the last load or check.
type LoadStatus struct {
	Rebuilt     bool
	Reason      LoadReason
	Path        string
	Count       int
	GeneratedAt time.Time
	Mode        Mode
}

// Fresh reports whether the persisted document was usable.
func (s LoadStatus) Fresh() bool { return s.Reason == ReasonNone }

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderAudit records rebuilds and discards to an audit logger.
func WithLoaderAudit(a *AuditLogger) LoaderOption {
	return func(l *Loader) { l.audit = a }
}

// WithLoaderClock overrides the generation timestamp source.
func WithLoaderClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// Loader owns the registry document lifecycle.
type Loader struct {
	config  *Config
	catalog *Catalog
	scanner *Scanner
	audit   *AuditLogger
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group

	mu     sync.Mutex
	status LoadStatus
	doc    *Document
}

// NewLoader creates the loader owning the registry document at
// config.RegistryPath.
//
// In production mode a document with the current schema version is trusted
// as is. In development mode each Load first compares the critical files,
// the catalog and the handler tree with the document mtime, and rebuilds on
// the first difference. Neither mode touches the file system until Load,
// Check or Rebuild is called.
//
// Parameters:
//   - config: loader configuration; defaults are applied to a copy
//   - catalog: registered controllers; manifests without a factory are skipped
//   - opts: WithLoaderClock, WithLoaderAudit
//
// Returns:
//   - a loader whose concurrent Load calls share one pass
func NewLoader(config *Config, catalog *Catalog, opts ...LoaderOption) *Loader {
	cfg := config.WithDefaults()
	l := &Loader{
		config:  cfg,
		catalog: catalog,
		scanner: NewScanner(cfg, catalog),
		logger:  cfg.Logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Loader) Config() *Config { return l.config }

// Status returns the outcome of the most recent Load.
func (l *Loader) Status() LoadStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Document returns the document behind the most recent Load or Rebuild.
func (l *Loader) Document() *Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc
}

// Load returns the registry, rebuilding the document when it cannot be
// trusted. Concurrent calls share one pass.
func (l *Loader) Load(ctx context.Context) (*Registry, error) {
	v, err, _ := l.group.Do("load", func() (any, error) {
		return l.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Registry), nil
}

func (l *Loader) load(ctx context.Context) (*Registry, error) {
	if err := l.config.Validate(); err != nil {
		return nil, err
	}

	doc, reason := l.inspect(ctx)
	if reason == ReasonNone {
		l.setStatus(LoadStatus{Count: doc.Metadata.Count, GeneratedAt: doc.Metadata.GeneratedAt}, doc)
		l.logger.Debug("registry document accepted", "path", l.config.RegistryPath, "mode", l.config.Mode.String())
		return doc.Registry(), nil
	}

	if reason == ReasonCorrupt || reason == ReasonVersion {
		l.discard(reason)
	}
	l.logger.Info("rebuilding controller registry", "reason", string(reason), "mode", l.config.Mode.String())

	doc, err := l.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	l.setStatus(LoadStatus{Rebuilt: true, Reason: reason, Count: doc.Metadata.Count, GeneratedAt: doc.Metadata.GeneratedAt}, doc)
	l.audit.LogRegistryRebuild(l.config.RegistryPath, string(reason), doc.Metadata.Count)
	return doc.Registry(), nil
}

// Rebuild rescans the handler tree and rewrites the document unconditionally.
func (l *Loader) Rebuild(ctx context.Context) (*Document, error) {
	if err := l.config.Validate(); err != nil {
		return nil, err
	}
	doc, err := l.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	l.setStatus(LoadStatus{Rebuilt: true, Count: doc.Metadata.Count, GeneratedAt: doc.Metadata.GeneratedAt}, doc)
	l.audit.LogRegistryRebuild(l.config.RegistryPath, "forced", doc.Metadata.Count)
	return doc, nil
}

// Check reports whether the persisted document would be accepted, without
// rebuilding or deleting anything.
func (l *Loader) Check(ctx context.Context) (LoadStatus, error) {
	if err := l.config.Validate(); err != nil {
		return LoadStatus{}, err
	}
	doc, reason := l.inspect(ctx)
	st := LoadStatus{Reason: reason, Path: l.config.RegistryPath, Mode: l.config.Mode}
	if doc != nil {
		st.Count = doc.Metadata.Count
		st.GeneratedAt = doc.Metadata.GeneratedAt
	}
	return st, nil
}

func (l *Loader) rebuild(ctx context.Context) (*Document, error) {
	descs, err := l.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	doc := Compile(descs, l.now())
	if err := WriteDocument(l.config.RegistryPath, doc, l.config.DocumentFormat); err != nil {
		// The registry is still usable from memory; the next boot rescans.
		l.logger.Error("cannot persist registry document", "path", l.config.RegistryPath, "error", err)
	}
	return doc, nil
}

// inspect decides whether the persisted document can be used. The document
// is returned whenever it decoded, even if stale.
func (l *Loader) inspect(ctx context.Context) (*Document, LoadReason) {
	path := l.config.RegistryPath
	info, err := os.Stat(path)
	if err != nil {
		return nil, ReasonMissing
	}

	doc, err := ReadDocument(path, l.config.DocumentFormat)
	if err != nil {
		if goerrors.Is(err, fs.ErrNotExist) {
			return nil, ReasonMissing
		}
		l.logger.Warn("registry document is corrupt", "path", path, "error", err)
		return nil, ReasonCorrupt
	}
	if doc.Metadata.SchemaVersion != SchemaVersion {
		l.logger.Warn("registry document schema mismatch",
			"path", path, "found", doc.Metadata.SchemaVersion, "want", SchemaVersion)
		return doc, ReasonVersion
	}
	if l.config.Mode != ModeDevelopment {
		return doc, ReasonNone
	}
	return doc, l.freshness(ctx, doc, info.ModTime())
}

// freshness runs the development mode checks against the document mtime.
func (l *Loader) freshness(ctx context.Context, doc *Document, generated time.Time) LoadReason {
	for _, f := range l.config.CriticalFiles {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(generated) {
			l.logger.Debug("critical file changed", "file", f)
			return ReasonStale
		}
	}

	for id, e := range doc.Controllers {
		if !l.catalog.Has(id) {
			l.logger.Debug("registered controller no longer exists", "identity", id)
			return ReasonOrphaned
		}
		if _, err := os.Stat(e.SourceFile); err != nil {
			l.logger.Debug("controller source file vanished", "identity", id, "file", e.SourceFile)
			return ReasonStale
		}
	}

	if l.treeChangedSince(ctx, generated) {
		return ReasonStale
	}
	return ReasonNone
}

// errTreeChanged stops the walk at the first newer file.
var errTreeChanged = goerrors.New("handler tree changed")

func (l *Loader) treeChangedSince(ctx context.Context, generated time.Time) bool {
	root := l.config.HandlerDir
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if ok, _ := doublestar.Match(l.config.HandlerPattern, filepath.ToSlash(rel)); !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(generated) {
			l.logger.Debug("handler source changed", "file", path)
			return errTreeChanged
		}
		return nil
	})
	// Any walk failure also forces a rescan, which will report it properly.
	return err != nil
}

// discard removes an unusable document if the file system allows it.
func (l *Loader) discard(reason LoadReason) {
	path := l.config.RegistryPath
	if err := os.Remove(path); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("cannot delete registry document", "path", path, "error", err)
		return
	}
	l.audit.LogDocumentDiscarded(path, string(reason))
}

func (l *Loader) setStatus(st LoadStatus, doc *Document) {
	st.Path = l.config.RegistryPath
	st.Mode = l.config.Mode
	l.mu.Lock()
	l.status = st
	l.doc = doc
	l.mu.Unlock()
}
