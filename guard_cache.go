// guard_cache.go: Response cache guard
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RuleCache is the rule type served by ResponseCacheGuard.
const RuleCache = "cache"

// ResponseCacheGuard serves stored replies for repeated invocations.
//
// Parameters: ttl (seconds, default from the guard), key (explicit key
// override), vary_by (request parameter names folded into the key).
type ResponseCacheGuard struct {
	cache      *Cache
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewResponseCacheGuard creates a guard storing replies in cache.
func NewResponseCacheGuard(cache *Cache, defaultTTL time.Duration) *ResponseCacheGuard {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &ResponseCacheGuard{cache: cache, defaultTTL: defaultTTL, logger: cache.logger}
}

// Key derives the cache key for an invocation. Every field is length
// prefixed, so no parameter value can shift the boundary between fields.
func (g *ResponseCacheGuard) Key(gc *GuardContext) string {
	h := xxhash.New()
	var prefix [binary.MaxVarintLen64]byte
	write := func(s string) {
		n := binary.PutUvarint(prefix[:], uint64(len(s)))
		_, _ = h.Write(prefix[:n])
		_, _ = h.WriteString(s)
	}
	write(gc.Identity)
	write(gc.Method)
	write(gc.Descriptor.String("key"))
	for _, name := range gc.Descriptor.Strings("vary_by") {
		write(name)
		write(gc.Request.Param(name))
	}
	return "janus:response:" + strconv.FormatUint(h.Sum64(), 16)
}

func (g *ResponseCacheGuard) ttl(d GuardDescriptor) time.Duration {
	if secs := d.Int("ttl", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return g.defaultTTL
}

// Check implements Guard. The short-circuit reply is a copy; callers may
// modify it without touching the cached entry.
func (g *ResponseCacheGuard) Check(_ context.Context, gc *GuardContext) Outcome {
	if reply, ok := Load[Reply](g.cache, g.Key(gc)); ok {
		return ShortCircuit(reply.Clone())
	}
	return Proceed()
}

// Complete implements Completer by storing the fresh reply.
func (g *ResponseCacheGuard) Complete(_ context.Context, gc *GuardContext, reply *Reply) {
	if reply == nil {
		return
	}
	if err := Put(g.cache, g.Key(gc), *reply.Clone(), g.ttl(gc.Descriptor)); err != nil {
		g.logger.Warn("cannot cache reply", "identity", gc.Identity, "method", gc.Method, "error", err)
	}
}
