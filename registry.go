// registry.go: In-memory (type, handle) -> controller identity index
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"sort"
	"sync"
	"time"
)

// handleMarker prefixes every stored handle so numeric-looking handles stay
// opaque strings.
const handleMarker = "h:"

func handleKey(handle string) string { return handleMarker + handle }

type registryKey struct {
	typ    ControllerType
	handle string
}

// RegistryEntry is one (type, handle) binding.
type RegistryEntry struct {
	Type     ControllerType
	Handle   string
	Identity string
}

// Registry maps (type, handle) pairs to controller identities. Reads are
// safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	entries     map[registryKey]string
	defaultID   string
	notFoundID  string
	version     string
	generatedAt time.Time
}

// NewRegistry returns an empty registry stamped with the running schema version.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]string), version: SchemaVersion}
}

// Register binds (t, handle) to identity. An existing binding is overwritten.
// Default and NotFound registrations also set the fallback controllers.
func (r *Registry) Register(t ControllerType, handle, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[registryKey{typ: t, handle: handleKey(handle)}] = identity
	switch t {
	case TypeDefault:
		r.defaultID = identity
	case TypeNotFound:
		r.notFoundID = identity
	}
}

// RegisterDescriptors registers every descriptor in order.
func (r *Registry) RegisterDescriptors(descs []ControllerDescriptor) {
	for _, d := range descs {
		r.Register(d.Type, d.Handle, d.Identity)
	}
}

// lookup expects an already marked handle key.
func (r *Registry) lookup(t ControllerType, key string) (string, bool) {
	r.mu.RLock()
	id, ok := r.entries[registryKey{typ: t, handle: key}]
	r.mu.RUnlock()
	return id, ok
}

// Default returns the default controller identity, if any.
func (r *Registry) Default() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID, r.defaultID != ""
}

// NotFound returns the not-found controller identity, if any.
func (r *Registry) NotFound() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notFoundID, r.notFoundID != ""
}

// Count returns the number of bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SchemaVersion returns the schema the registry was built with.
func (r *Registry) SchemaVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// GeneratedAt returns the generation time of the backing document.
func (r *Registry) GeneratedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generatedAt
}

// Entries returns all bindings sorted by type then handle.
func (r *Registry) Entries() []RegistryEntry {
	r.mu.RLock()
	out := make([]RegistryEntry, 0, len(r.entries))
	for k, id := range r.entries {
		out = append(out, RegistryEntry{Type: k.typ, Handle: k.handle[len(handleMarker):], Identity: id})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}
