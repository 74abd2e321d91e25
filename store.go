// store.go: Durable cache backends and the store provider registry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	goerrors "errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/vmihailenco/msgpack/v5"
)

// CacheEntry is one durable cache record. ExpiresAt is unix nanoseconds,
// zero meaning no expiry.
type CacheEntry struct {
	Value     []byte `msgpack:"v"`
	ExpiresAt int64  `msgpack:"e,omitempty"`
}

// Expired reports whether the entry is dead at now (unix nanoseconds).
func (e CacheEntry) Expired(now int64) bool {
	return e.ExpiresAt != 0 && now >= e.ExpiresAt
}

// Store persists the durable cache tier as a whole. Implementations must
// replace the stored set atomically on Save.
type Store interface {
	Load(ctx context.Context) (map[string]CacheEntry, error)
	Save(ctx context.Context, entries map[string]CacheEntry) error
	Delete(ctx context.Context) error
	Close() error
}

// StoreProvider opens stores for one URL scheme.
type StoreProvider interface {
	Name() string
	Scheme() string
	Open(location *url.URL) (Store, error)
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]StoreProvider)
)

// RegisterStoreProvider makes a provider available to OpenStore. Providers
// usually call it from init.
func RegisterStoreProvider(p StoreProvider) error {
	if p == nil {
		return errors.New(ErrCodeInvalidConfig, "store provider cannot be nil")
	}
	scheme := strings.ToLower(p.Scheme())
	if scheme == "" {
		return errors.New(ErrCodeInvalidConfig, "store provider scheme cannot be empty")
	}

	providersMu.Lock()
	defer providersMu.Unlock()
	if _, exists := providers[scheme]; exists {
		return errors.New(ErrCodeInvalidConfig, "store provider already registered").WithContext("scheme", scheme)
	}
	providers[scheme] = p
	return nil
}

// StoreSchemes lists the schemes OpenStore understands, sorted.
func StoreSchemes() []string {
	providersMu.RLock()
	out := []string{"file", "memory", "sqlite"}
	for s := range providers {
		out = append(out, s)
	}
	providersMu.RUnlock()
	sort.Strings(out)
	return out
}

// OpenStore opens a durable store from a location. An empty location or
// memory:// gives a MemoryStore, a bare path or file:// a FileStore,
// sqlite:// a SQLiteStore; other schemes go to registered providers.
func OpenStore(location string) (Store, error) {
	if location == "" {
		return NewMemoryStore(), nil
	}
	if !strings.Contains(location, "://") {
		return NewFileStore(location), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid store location").WithContext("location", location)
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(u.Host + u.Path), nil
	case "sqlite":
		s, err := NewSQLiteStore(u.Host + u.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		providersMu.RLock()
		p, ok := providers[scheme]
		providersMu.RUnlock()
		if !ok {
			return nil, errors.New(ErrCodeUnknownStore, "no store provider for scheme").WithContext("scheme", scheme)
		}
		return p.Open(u)
	}
}

// MemoryStore keeps the durable tier in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	saves   int
	deletes int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (map[string]CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEntries(m.entries), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, entries map[string]CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = copyEntries(entries)
	m.saves++
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.deletes++
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Writes returns how many Save and Delete calls reached the store.
func (m *MemoryStore) Writes() (saves, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.deletes
}

func copyEntries(in map[string]CacheEntry) map[string]CacheEntry {
	out := make(map[string]CacheEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fileStoreVersion tags the on-disk layout.
const fileStoreVersion = 1

type fileStoreDoc struct {
	Version int                   `msgpack:"version"`
	Entries map[string]CacheEntry `msgpack:"entries"`
}

// FileStore keeps the durable tier in one msgpack file replaced atomically.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore { return &FileStore{path: filepath.Clean(path)} }

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

// Load implements Store. A missing file is an empty store; an undecodable
// one is removed and reported as corruption.
func (f *FileStore) Load(context.Context) (map[string]CacheEntry, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 -- path comes from configuration
	if err != nil {
		if goerrors.Is(err, fs.ErrNotExist) {
			return map[string]CacheEntry{}, nil
		}
		return nil, wrapStoreIO(err, "read").WithContext("path", f.path)
	}

	var doc fileStoreDoc
	if err := msgpack.Unmarshal(data, &doc); err != nil || doc.Version != fileStoreVersion {
		_ = os.Remove(f.path)
		return nil, newCorruption("cache file is corrupt").WithContext("path", f.path)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]CacheEntry{}
	}
	return doc.Entries, nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, entries map[string]CacheEntry) error {
	data, err := msgpack.Marshal(fileStoreDoc{Version: fileStoreVersion, Entries: entries})
	if err != nil {
		return errors.Wrap(err, ErrCodeSerialization, "cannot encode cache file")
	}
	if err := writeFileAtomic(f.path, data, 0o600); err != nil {
		return wrapStoreIO(err, "write").WithContext("path", f.path)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(context.Context) error {
	if err := os.Remove(f.path); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
		return wrapStoreIO(err, "delete").WithContext("path", f.path)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error { return nil }
