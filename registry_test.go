// registry_test.go: Registry, resolver and instance tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	goerrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryResolveBasic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TypeView, "42", "A")
	reg.Register(TypeView, "product", "B")
	reg.Register(TypeDefault, "_default", "C")

	r := NewResolver(reg)
	cases := []struct {
		typ    ControllerType
		handle string
		want   string
		ok     bool
	}{
		{TypeView, "42", "A", true},
		{TypeView, "product", "B", true},
		{TypeView, "99", "", false},
		{TypeAdmin, "product", "", false},
	}
	for _, tc := range cases {
		got, ok := r.Resolve(tc.typ, tc.handle)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Resolve(%v, %q) = %q, %v; want %q, %v", tc.typ, tc.handle, got, ok, tc.want, tc.ok)
		}
	}

	def, err := r.DefaultController()
	if err != nil || def != "C" {
		t.Errorf("DefaultController() = %q, %v", def, err)
	}
}

func TestRegistryNumericAndStringHandlesDoNotCollide(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TypeView, "1", "numeric")
	reg.Register(TypeView, "01", "padded")

	r := NewResolver(reg)
	if got, _ := r.Resolve(TypeView, "1"); got != "numeric" {
		t.Errorf("handle 1 resolved to %q", got)
	}
	if got, _ := r.Resolve(TypeView, "01"); got != "padded" {
		t.Errorf("handle 01 resolved to %q", got)
	}
	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}
}

func TestRegistryOverwriteAndEntries(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TypeView, "b", "first")
	reg.Register(TypeView, "b", "second")
	reg.Register(TypeView, "a", "alpha")
	reg.Register(TypeNotFound, "_404", "missing")

	want := []RegistryEntry{
		{Type: TypeView, Handle: "a", Identity: "alpha"},
		{Type: TypeView, Handle: "b", Identity: "second"},
		{Type: TypeNotFound, Handle: "_404", Identity: "missing"},
	}
	if diff := cmp.Diff(want, reg.Entries()); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}
	if id, ok := reg.NotFound(); !ok || id != "missing" {
		t.Errorf("NotFound() = %q, %v", id, ok)
	}
	if reg.SchemaVersion() != SchemaVersion {
		t.Errorf("SchemaVersion() = %q", reg.SchemaVersion())
	}
}

func TestResolverMissingFallbacks(t *testing.T) {
	r := NewResolver(NewRegistry())
	if _, err := r.DefaultController(); !IsRegistrationError(err) {
		t.Errorf("missing default should be a registration error, got %v", err)
	}
	if _, err := r.NotFoundController(); !IsRegistrationError(err) {
		t.Errorf("missing not-found should be a registration error, got %v", err)
	}
}

func TestResolverRewriteHook(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TypeView, "product", "B")
	r := NewResolver(reg, WithHandleRewriter(func(_ ControllerType, h string) string {
		return strings.TrimPrefix(h, "legacy-")
	}))
	if got, ok := r.Resolve(TypeView, "legacy-product"); !ok || got != "B" {
		t.Errorf("rewritten handle resolved to %q, %v", got, ok)
	}
	if got, ok := r.ResolveName("VIEW", "product"); !ok || got != "B" {
		t.Errorf("ResolveName = %q, %v", got, ok)
	}
	if _, ok := r.ResolveName("gadget", "product"); ok {
		t.Error("unknown type name should not resolve")
	}
}

type countingAutoloader struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (a *countingAutoloader) Autoload(identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[identity]++
	if a.fail[identity] {
		a.fail[identity] = false
		return goerrors.New("not ready")
	}
	return nil
}

func TestResolverAutoloadsOnce(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TypeView, "x", "X")
	reg.Register(TypeView, "y", "Y")
	al := &countingAutoloader{calls: map[string]int{}, fail: map[string]bool{"Y": true}}
	r := NewResolver(reg, WithAutoloader(al), WithResolverLogger(discardLogger()))

	for i := 0; i < 3; i++ {
		r.Resolve(TypeView, "x")
		r.Resolve(TypeView, "y")
	}
	if al.calls["X"] != 1 {
		t.Errorf("X autoloaded %d times, want 1", al.calls["X"])
	}
	// The first attempt fails, the second succeeds and sticks.
	if al.calls["Y"] != 2 {
		t.Errorf("Y autoloaded %d times, want 2", al.calls["Y"])
	}
	if _, ok := r.Resolve(TypeView, "nope"); ok {
		t.Error("unknown handle should not resolve")
	}
}

func TestResolverConcurrentReads(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TypeView, "p", "P")
	r := NewResolver(reg)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if id, ok := r.Resolve(TypeView, "p"); !ok || id != "P" {
					t.Errorf("concurrent Resolve = %q, %v", id, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestInstancesConstructOnce(t *testing.T) {
	built := 0
	catalog := NewCatalog()
	catalog.Register("a", func() Handler { built++; return &echoController{name: "a"} })
	catalog.Register("nil", func() Handler { return nil })

	inst := NewInstances(catalog)
	h1, err := inst.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h2, _ := inst.Get("a")
	if h1 != h2 || built != 1 {
		t.Errorf("expected a single instance, built %d", built)
	}
	if err := inst.Autoload("a"); err != nil {
		t.Errorf("Autoload: %v", err)
	}
	if inst.Len() != 1 {
		t.Errorf("Len() = %d", inst.Len())
	}
	if _, err := inst.Get("missing"); !IsRegistrationError(err) {
		t.Errorf("missing factory should be a registration error, got %v", err)
	}
	if _, err := inst.Get("nil"); !IsRegistrationError(err) {
		t.Errorf("nil handler should be a registration error, got %v", err)
	}
}

func TestControllerTypeText(t *testing.T) {
	for _, typ := range []ControllerType{TypeView, TypeAdmin, TypeWidget, TypeDefault, TypeNotFound} {
		b, err := typ.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var back ControllerType
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if back != typ {
			t.Errorf("round trip %v -> %s -> %v", typ, b, back)
		}
	}
	var bad ControllerType
	if err := bad.UnmarshalText([]byte("gadget")); !HasCode(err, ErrCodeCacheCorruption) {
		t.Errorf("unknown type should be corruption, got %v", err)
	}
}
