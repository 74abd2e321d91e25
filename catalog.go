// catalog.go: Explicit startup registration of controllers, bases and mixins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"sort"
	"sync"
)

// Built-in catalog names.
const (
	// LifecycleBase is the root base every concrete controller must descend from.
	LifecycleBase = "janus.lifecycle"
	// AdminMixin marks a controller as an admin controller.
	AdminMixin = "janus.admin"
)

// Base describes a controller base type. Methods declared on a Core base
// are framework internals and never become actions, whatever path brings
// them into a controller.
type Base struct {
	Name    string
	Parent  string
	Core    bool
	Methods []string
}

// Mixin is a reusable bundle of actions. Admin marks the admin-marker mixin.
type Mixin struct {
	Name    string
	Admin   bool
	Actions []string
}

// Module registers a group of controllers into a catalog at startup.
type Module interface {
	Register(c *Catalog)
}

// Catalog is the startup registration arena: every concrete controller the
// scanner may discover must have a factory here.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
	bases     map[string]Base
	mixins    map[string]Mixin
}

// NewCatalog returns a catalog preloaded with the lifecycle base and the
// admin marker mixin.
func NewCatalog() *Catalog {
	c := &Catalog{
		factories: make(map[string]HandlerFactory),
		bases:     make(map[string]Base),
		mixins:    make(map[string]Mixin),
	}
	c.RegisterBase(Base{
		Name:    LifecycleBase,
		Core:    true,
		Methods: []string{"handle", "boot", "configure", "render", "shutdown", "instance"},
	})
	c.RegisterMixin(Mixin{Name: AdminMixin, Admin: true})
	return c
}

// Register binds a controller identity to its factory. A later call for the
// same identity replaces the earlier factory.
func (c *Catalog) Register(identity string, factory HandlerFactory) {
	c.mu.Lock()
	c.factories[identity] = factory
	c.mu.Unlock()
}

// RegisterBase adds or replaces a base type.
func (c *Catalog) RegisterBase(b Base) {
	c.mu.Lock()
	c.bases[b.Name] = b
	c.mu.Unlock()
}

// RegisterMixin adds or replaces a mixin.
func (c *Catalog) RegisterMixin(m Mixin) {
	c.mu.Lock()
	c.mixins[m.Name] = m
	c.mu.Unlock()
}

// Use lets each module register itself.
func (c *Catalog) Use(modules ...Module) *Catalog {
	for _, m := range modules {
		m.Register(c)
	}
	return c
}

// Factory returns the factory registered for identity.
func (c *Catalog) Factory(identity string) (HandlerFactory, bool) {
	c.mu.RLock()
	f, ok := c.factories[identity]
	c.mu.RUnlock()
	return f, ok && f != nil
}

// Has reports whether identity has a factory.
func (c *Catalog) Has(identity string) bool {
	_, ok := c.Factory(identity)
	return ok
}

// Len returns how many identities have a non-nil factory.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, f := range c.factories {
		if f != nil {
			n++
		}
	}
	return n
}

// Identities returns every registered controller identity, sorted.
func (c *Catalog) Identities() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.factories))
	for id := range c.factories {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Mixin looks up a mixin by name.
func (c *Catalog) Mixin(name string) (Mixin, bool) {
	c.mu.RLock()
	m, ok := c.mixins[name]
	c.mu.RUnlock()
	return m, ok
}

// ancestry returns the base chain starting at name, or ok=false when a name
// is unknown or the chain loops.
func (c *Catalog) ancestry(name string) ([]Base, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var chain []Base
	seen := make(map[string]bool)
	for name != "" {
		if seen[name] {
			return nil, false
		}
		seen[name] = true
		b, ok := c.bases[name]
		if !ok {
			return nil, false
		}
		chain = append(chain, b)
		name = b.Parent
	}
	return chain, true
}

// descendsFromLifecycle reports whether base is, or inherits from, the lifecycle base.
func (c *Catalog) descendsFromLifecycle(base string) bool {
	chain, ok := c.ancestry(base)
	if !ok {
		return false
	}
	for _, b := range chain {
		if b.Name == LifecycleBase {
			return true
		}
	}
	return false
}
