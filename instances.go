// instances.go: Constructed controller instances, built once per identity
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import "sync"

// Instances holds one constructed handler per controller identity. It is
// built at startup and handed to the resolver and dispatcher.
type Instances struct {
	catalog *Catalog
	mu      sync.Mutex
	built   map[string]Handler
}

// NewInstances creates an empty instance registry backed by catalog.
func NewInstances(catalog *Catalog) *Instances {
	return &Instances{catalog: catalog, built: make(map[string]Handler)}
}

// Get returns the handler for identity, constructing it on first use.
func (i *Instances) Get(identity string) (Handler, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if h, ok := i.built[identity]; ok {
		return h, nil
	}
	factory, ok := i.catalog.Factory(identity)
	if !ok {
		return nil, newRegistrationError("no factory registered for controller").
			WithContext("identity", identity)
	}
	h := factory()
	if h == nil {
		return nil, newRegistrationError("controller factory returned nil").
			WithContext("identity", identity)
	}
	i.built[identity] = h
	return h, nil
}

// Autoload implements Autoloader by constructing the instance eagerly.
func (i *Instances) Autoload(identity string) error {
	_, err := i.Get(identity)
	return err
}

// Len returns how many instances have been constructed.
func (i *Instances) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.built)
}
