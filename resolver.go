// resolver.go: Request handle resolution with rewrite and autoload hooks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// HandleRewriter maps an inbound handle onto the handle stored in the
// registry, e.g. for alternate id schemes. It must be deterministic.
type HandleRewriter func(t ControllerType, handle string) string

// Autoloader is asked to make a controller ready the first time its
// identity is resolved.
type Autoloader interface {
	Autoload(identity string) error
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHandleRewriter installs a handle rewrite hook.
func WithHandleRewriter(fn HandleRewriter) ResolverOption {
	return func(r *Resolver) { r.rewrite = fn }
}

// WithAutoloader installs the lazy loading collaborator.
func WithAutoloader(a Autoloader) ResolverOption {
	return func(r *Resolver) { r.autoloader = a }
}

// WithResolverLogger sets the logger used for autoload failures.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// Resolver answers (type, handle) -> identity against a Registry.
type Resolver struct {
	registry   atomic.Pointer[Registry]
	rewrite    HandleRewriter
	autoloader Autoloader
	logger     *slog.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// NewResolver creates a resolver over reg.
func NewResolver(reg *Registry, opts ...ResolverOption) *Resolver {
	r := &Resolver{loaded: make(map[string]bool), logger: slog.Default()}
	r.registry.Store(reg)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the resolver reads.
func (r *Resolver) Registry() *Registry { return r.registry.Load() }

// Swap replaces the registry. Lookups already in flight finish against the
// previous one.
func (r *Resolver) Swap(reg *Registry) { r.registry.Store(reg) }

// Resolve returns the identity bound to (t, handle), or ok=false.
func (r *Resolver) Resolve(t ControllerType, handle string) (string, bool) {
	if r.rewrite != nil {
		handle = r.rewrite(t, handle)
	}
	id, ok := r.registry.Load().lookup(t, handleKey(handle))
	if !ok {
		return "", false
	}
	r.autoload(id)
	return id, true
}

// ResolveName is Resolve with the type given by name ("view", "admin", ...).
// Unknown type names resolve to nothing.
func (r *Resolver) ResolveName(typeName, handle string) (string, bool) {
	t, ok := ParseControllerType(typeName)
	if !ok {
		return "", false
	}
	return r.Resolve(t, handle)
}

// DefaultController returns the default controller. Its absence is a
// registration error.
func (r *Resolver) DefaultController() (string, error) {
	id, ok := r.registry.Load().Default()
	if !ok {
		return "", newRegistrationError("no default controller registered").
			WithContext("handle", HandleDefault)
	}
	r.autoload(id)
	return id, nil
}

// NotFoundController returns the not-found controller. Its absence is a
// registration error.
func (r *Resolver) NotFoundController() (string, error) {
	id, ok := r.registry.Load().NotFound()
	if !ok {
		return "", newRegistrationError("no not-found controller registered").
			WithContext("handle", HandleNotFound)
	}
	r.autoload(id)
	return id, nil
}

// autoload runs the autoloader at most once per identity. A failed attempt
// is retried on the next resolution.
func (r *Resolver) autoload(identity string) {
	if r.autoloader == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded[identity] {
		return
	}
	if err := r.autoloader.Autoload(identity); err != nil {
		r.logger.Warn("controller autoload failed", "identity", identity, "error", err)
		return
	}
	r.loaded[identity] = true
}
