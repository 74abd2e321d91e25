// Package redis provides a Redis durable cache store for Janus
//
// USAGE:
//
//	import _ "github.com/agilira/janus/providers/redis" // registers the redis:// scheme
//
//	store, err := janus.OpenStore("redis://localhost:6379/0/janus:cache")
//	cache := janus.NewCache(store)
//
// URL FORMAT:
//
//	redis://[username:password@]host:port/database/key
//
// The whole durable tier lives in one hash under key; every field is a
// msgpack encoded janus.CacheEntry. Save replaces the hash inside
// MULTI/EXEC so readers never see a half written set.
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package redis

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/janus"
	"github.com/gomodule/redigo/redis"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultHost = "localhost:6379"
	defaultKey  = "janus:cache"
)

// Store implements janus.Store on a Redis hash.
type Store struct {
	pool *redis.Pool
	key  string
}

// New creates a store on an existing pool.
func New(pool *redis.Pool, key string) *Store {
	if key == "" {
		key = defaultKey
	}
	return &Store{pool: pool, key: key}
}

// Key returns the hash key holding the cache.
func (s *Store) Key() string { return s.key }

// Load implements janus.Store. Undecodable entries drop the whole hash and
// are reported as corruption.
func (s *Store) Load(ctx context.Context) (map[string]janus.CacheEntry, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, janus.ErrCodeStoreIO, "cannot connect to redis")
	}
	defer func() { _ = conn.Close() }()

	raw, err := redis.ByteSlices(conn.Do("HGETALL", s.key))
	if err != nil && err != redis.ErrNil {
		return nil, errors.Wrap(err, janus.ErrCodeStoreIO, "cannot read redis cache").WithContext("key", s.key)
	}

	out := make(map[string]janus.CacheEntry, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		var e janus.CacheEntry
		if err := msgpack.Unmarshal(raw[i+1], &e); err != nil {
			_, _ = conn.Do("DEL", s.key)
			return nil, errors.New(janus.ErrCodeCacheCorruption, "redis cache entry is corrupt").
				WithContext("key", s.key).WithContext("field", string(raw[i]))
		}
		out[string(raw[i])] = e
	}
	return out, nil
}

// Save implements janus.Store.
func (s *Store) Save(ctx context.Context, entries map[string]janus.CacheEntry) error {
	args := redis.Args{}.Add(s.key)
	for k, e := range entries {
		data, err := msgpack.Marshal(e)
		if err != nil {
			return errors.Wrap(err, janus.ErrCodeSerialization, "cannot encode cache entry").WithContext("field", k)
		}
		args = args.Add(k, data)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot connect to redis")
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Send("MULTI"); err != nil {
		return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot write redis cache")
	}
	if err := conn.Send("DEL", s.key); err != nil {
		return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot write redis cache")
	}
	if len(entries) > 0 {
		if err := conn.Send("HSET", args...); err != nil {
			return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot write redis cache")
		}
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot write redis cache").WithContext("key", s.key)
	}
	return nil
}

// Delete implements janus.Store.
func (s *Store) Delete(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot connect to redis")
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Do("DEL", s.key); err != nil {
		return errors.Wrap(err, janus.ErrCodeStoreIO, "cannot delete redis cache").WithContext("key", s.key)
	}
	return nil
}

// Close implements janus.Store.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Location is a parsed redis:// store URL.
type Location struct {
	Host     string
	Username string
	Password string
	DB       int
	Key      string
}

// ParseLocation parses redis://[user:pass@]host:port/database/key. Database
// and key are optional and default to 0 and janus:cache.
func ParseLocation(u *url.URL) (Location, error) {
	if u.Scheme != "redis" {
		return Location{}, errors.New(janus.ErrCodeInvalidConfig, "URL scheme must be 'redis'")
	}
	loc := Location{Host: u.Host, Key: defaultKey}
	if loc.Host == "" {
		loc.Host = defaultHost
	}
	if !strings.Contains(loc.Host, ":") {
		loc.Host += ":6379"
	}
	if u.User != nil {
		loc.Username = u.User.Username()
		loc.Password, _ = u.User.Password()
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return loc, nil
	}
	parts := strings.SplitN(path, "/", 2)
	db, err := strconv.Atoi(parts[0])
	if err != nil {
		return Location{}, errors.Wrap(err, janus.ErrCodeInvalidConfig, "invalid Redis database number")
	}
	if db < 0 || db > 15 {
		return Location{}, errors.New(janus.ErrCodeInvalidConfig, "Redis database number must be between 0 and 15")
	}
	loc.DB = db
	if len(parts) == 2 && parts[1] != "" {
		loc.Key = parts[1]
	}
	return loc, nil
}

// NewPool builds a connection pool for loc.
func NewPool(loc Location) *redis.Pool {
	opts := []redis.DialOption{
		redis.DialDatabase(loc.DB),
		redis.DialConnectTimeout(5 * time.Second),
	}
	if loc.Password != "" {
		opts = append(opts, redis.DialPassword(loc.Password))
	}
	if loc.Username != "" {
		opts = append(opts, redis.DialUsername(loc.Username))
	}
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", loc.Host, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Provider opens redis:// locations.
type Provider struct{}

// Name implements janus.StoreProvider.
func (Provider) Name() string { return "Redis durable cache store" }

// Scheme implements janus.StoreProvider.
func (Provider) Scheme() string { return "redis" }

// Open implements janus.StoreProvider.
func (Provider) Open(u *url.URL) (janus.Store, error) {
	loc, err := ParseLocation(u)
	if err != nil {
		return nil, err
	}
	return New(NewPool(loc), loc.Key), nil
}

func init() {
	_ = janus.RegisterStoreProvider(Provider{})
}
