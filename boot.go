// boot.go: One-call startup of the registry, guards and cache
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
)

// System is a booted Janus instance.
type System struct {
	Config     *Config
	Catalog    *Catalog
	Loader     *Loader
	Registry   *Registry
	Resolver   *Resolver
	Instances  *Instances
	Pipeline   *Pipeline
	Cache      *Cache
	Tokens     *TokenGuard
	Dispatcher *Dispatcher
	Audit      *AuditLogger
}

// Boot loads the registry and wires every component into a System.
//
// Startup validates config, opens the audit logger and the cache store
// named by config.CacheStore, then loads (or rebuilds) the registry
// document. The capability and cache guards are always registered; the
// token guard only when TokenSecret is set. Anything opened before a
// failure is closed again.
//
// Parameters:
//   - ctx: bounds the registry load
//   - config: system configuration; defaults are applied to a copy
//   - catalog: every concrete controller of the service
//   - opts: resolver hooks such as WithHandleRewriter
//
// Returns:
//   - the wired system; call Close when done
//   - registration errors as is, they are fatal at boot
func Boot(ctx context.Context, config *Config, catalog *Catalog, opts ...ResolverOption) (*System, error) {
	cfg := config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	audit, err := NewAuditLogger(cfg.Audit)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg.CacheStore)
	if err != nil {
		_ = audit.Close()
		return nil, err
	}
	cache := NewCache(store, WithCacheLogger(cfg.Logger), WithCacheAudit(audit))

	loader := NewLoader(cfg, catalog, WithLoaderAudit(audit))
	reg, err := loader.Load(ctx)
	if err != nil {
		_ = store.Close()
		_ = audit.Close()
		return nil, err
	}

	instances := NewInstances(catalog)
	ropts := append([]ResolverOption{WithAutoloader(instances), WithResolverLogger(cfg.Logger)}, opts...)
	resolver := NewResolver(reg, ropts...)

	pipeline := NewPipeline(
		WithUnknownGuardPolicy(cfg.UnknownGuards),
		WithPipelineLogger(cfg.Logger),
		WithPipelineAudit(audit),
	)
	pipeline.Handle(RuleCapability, CapabilityGuard{})
	pipeline.Handle(RuleCache, NewResponseCacheGuard(cache, cfg.DefaultCacheTTL))

	var tokens *TokenGuard
	if cfg.TokenSecret != "" {
		if tokens, err = NewTokenGuard([]byte(cfg.TokenSecret), cache, WithTokenLifetime(cfg.TokenLifetime)); err != nil {
			_ = store.Close()
			_ = audit.Close()
			return nil, err
		}
		pipeline.Handle(RuleToken, tokens)
	}

	descs := loader.Document().Descriptors()
	pipeline.AttachDescriptors(descs)

	return &System{
		Config:     cfg,
		Catalog:    catalog,
		Loader:     loader,
		Registry:   reg,
		Resolver:   resolver,
		Instances:  instances,
		Pipeline:   pipeline,
		Cache:      cache,
		Tokens:     tokens,
		Dispatcher: NewDispatcher(resolver, instances, pipeline, cache, descs),
		Audit:      audit,
	}, nil
}

// Watcher returns a stopped watcher whose rebuilds are applied to the
// resolver, the pipeline and the dispatcher. s.Registry keeps the boot
// time registry; Resolver.Registry returns the current one.
func (s *System) Watcher(opts ...WatcherOption) *Watcher {
	apply := OnRebuild(func(reg *Registry, _ LoadStatus) {
		descs := s.Loader.Document().Descriptors()
		s.Pipeline.AttachDescriptors(descs)
		s.Dispatcher.SetDescriptors(descs)
		s.Resolver.Swap(reg)
	})
	return NewWatcher(s.Loader, append([]WatcherOption{apply}, opts...)...)
}

// Close flushes the cache and releases the store and audit trail.
func (s *System) Close(ctx context.Context) error {
	var first error
	if err := s.Cache.Flush(ctx); err != nil {
		first = err
	}
	if err := s.Cache.Store().Close(); err != nil && first == nil {
		first = err
	}
	if err := s.Audit.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
