// cache.go: Two-tier cache with dirty-tracked deferred persistence
//
// The memory tier is request scoped and cleared on Flush. The durable tier
// is loaded lazily from a Store, expired entries are pruned when read, and
// Flush rewrites the store only when something changed.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the expiry clock.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithCacheLogger sets the logger used for corruption and I/O warnings.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithCacheAudit records flushes and purges to an audit logger.
func WithCacheAudit(a *AuditLogger) CacheOption {
	return func(c *Cache) { c.audit = a }
}

type memEntry struct {
	value     any
	expiresAt int64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits           uint64
	Misses         uint64
	Writes         uint64
	Expired        uint64
	Flushes        uint64
	MemoryEntries  int
	DurableEntries int
	Dirty          bool
}

// Cache is the two-tier cache. It is safe for concurrent use.
type Cache struct {
	store  Store
	logger *slog.Logger
	audit  *AuditLogger
	now    func() time.Time

	mu      sync.Mutex
	memory  map[string]memEntry
	durable map[string]CacheEntry
	loaded  bool
	dirty   bool
	stats   CacheStats
}

// NewCache creates a two-tier cache over store.
//
// The memory tier lives for one request scope, ended by Flush. The durable
// tier is read from store on first use in each scope and written back by
// Flush only when an entry changed, so a read-only request never touches
// the store twice. Store failures degrade to an empty tier and are logged.
//
// Parameters:
//   - store: durable backend; nil keeps the durable tier in process memory
//   - opts: WithClock, WithCacheLogger, WithCacheAudit
//
// Returns:
//   - a cache safe for concurrent use
func NewCache(store Store, opts ...CacheOption) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Cache{
		store:  store,
		logger: slog.Default(),
		now:    timecache.CachedTime,
		memory: make(map[string]memEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the durable backend.
func (c *Cache) Store() Store { return c.store }

// ensureLoaded reads the durable tier once per request scope. Failures
// degrade to an empty tier. Caller holds c.mu.
func (c *Cache) ensureLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true
	entries, err := c.store.Load(context.Background())
	if err != nil {
		if HasCode(err, ErrCodeCacheCorruption) {
			c.logger.Warn("durable cache corrupt, starting empty", "error", err)
		} else {
			c.logger.Warn("durable cache unavailable, starting empty", "error", wrapStoreIO(err, "load"))
		}
		entries = nil
	}
	if entries == nil {
		entries = make(map[string]CacheEntry)
	}
	c.durable = entries
}

func (c *Cache) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return c.now().Add(ttl).UnixNano()
}

// Load returns the value stored under key, decoding it from the durable
// tier when it is not in memory.
func Load[T any](c *Cache, key string) (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	if m, ok := c.memory[key]; ok {
		if m.expiresAt != 0 && now >= m.expiresAt {
			delete(c.memory, key)
		} else if v, ok := m.value.(T); ok {
			c.stats.Hits++
			return v, true
		}
	}

	c.ensureLoaded()
	e, ok := c.durable[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if e.Expired(now) {
		delete(c.durable, key)
		c.dirty = true
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}

	var v T
	if err := msgpack.Unmarshal(e.Value, &v); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		delete(c.durable, key)
		c.dirty = true
		c.stats.Misses++
		return zero, false
	}
	c.memory[key] = memEntry{value: v, expiresAt: e.ExpiresAt}
	c.stats.Hits++
	return v, true
}

// Put stores value under key in both tiers. A non-positive ttl never expires.
func Put[T any](c *Cache, key string, value T, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return errors.Wrap(err, ErrCodeSerialization, "cannot encode cache value").WithContext("key", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	exp := c.expiry(ttl)
	c.memory[key] = memEntry{value: value, expiresAt: exp}
	c.durable[key] = CacheEntry{Value: data, ExpiresAt: exp}
	c.dirty = true
	c.stats.Writes++
	return nil
}

// Remember returns the cached value for key or computes and stores it.
func Remember[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if v, ok := Load[T](c, key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	if err := Put(c, key, v, ttl); err != nil {
		return v, err
	}
	return v, nil
}

// Memoize caches compute keyed by the function's own identity and a hash of
// deps. Different dependency snapshots get independent entries.
func Memoize[T any](c *Cache, deps any, ttl time.Duration, compute func() (T, error)) (T, error) {
	key, err := memoKey(compute, deps)
	if err != nil {
		var zero T
		return zero, err
	}
	return Remember(c, key, ttl, compute)
}

// memoKey combines the function symbol and source position with an xxhash
// of the msgpack encoded dependencies.
func memoKey(fn any, deps any) (string, error) {
	pc := reflect.ValueOf(fn).Pointer()
	name := "anonymous"
	pos := ""
	if f := runtime.FuncForPC(pc); f != nil {
		name = f.Name()
		file, line := f.FileLine(pc)
		pos = file + ":" + strconv.Itoa(line)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(deps); err != nil {
		return "", errors.Wrap(err, ErrCodeSerialization, "cannot encode memoize dependencies")
	}
	return "janus:memo:" + name + "@" + pos + ":" + strconv.FormatUint(xxhash.Sum64(buf.Bytes()), 16), nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.memory, key)
	c.ensureLoaded()
	if _, ok := c.durable[key]; ok {
		delete(c.durable, key)
		c.dirty = true
	}
}

// Flush ends the request scope: the memory tier is cleared and, if the
// durable tier changed, it is written back. An empty durable tier deletes
// the store instead.
//
// After a successful flush the durable tier is dropped, so the next request
// reads the store again and sees entries written by other processes. A
// failed write keeps the tier dirty for the next attempt.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory = make(map[string]memEntry)
	if !c.dirty {
		c.unload()
		return nil
	}

	now := c.now().UnixNano()
	for k, e := range c.durable {
		if e.Expired(now) {
			delete(c.durable, k)
			c.stats.Expired++
		}
	}

	deleted := len(c.durable) == 0
	var err error
	if deleted {
		err = c.store.Delete(ctx)
	} else {
		snapshot := make(map[string]CacheEntry, len(c.durable))
		for k, e := range c.durable {
			snapshot[k] = e
		}
		err = c.store.Save(ctx, snapshot)
	}
	if err != nil {
		return wrapStoreIO(err, "flush")
	}

	c.dirty = false
	c.stats.Flushes++
	c.audit.LogCacheFlush(len(c.durable), deleted)
	c.unload()
	return nil
}

// unload forgets the durable snapshot. Caller holds c.mu.
func (c *Cache) unload() {
	c.loaded = false
	c.durable = nil
}

// Purge drops every entry and deletes the durable store.
func (c *Cache) Purge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory = make(map[string]memEntry)
	c.durable = make(map[string]CacheEntry)
	c.loaded = true
	c.dirty = false
	if err := c.store.Delete(ctx); err != nil {
		return wrapStoreIO(err, "purge")
	}
	c.audit.LogCacheFlush(0, true)
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	s := c.stats
	s.MemoryEntries = len(c.memory)
	s.DurableEntries = len(c.durable)
	s.Dirty = c.dirty
	return s
}
