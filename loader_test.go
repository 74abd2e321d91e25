// loader_test.go: Registry document freshness and rebuild tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// settle pushes every manifest two hours and the document one hour into
// the past, so the document is newer than the tree.
func settle(t *testing.T, config *Config) {
	t.Helper()
	_ = filepath.WalkDir(config.HandlerDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			touch(t, path, -2*time.Hour)
		}
		return nil
	})
	touch(t, config.RegistryPath, -time.Hour)
}

func mustLoad(t *testing.T, l *Loader) *Registry {
	t.Helper()
	reg, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func TestLoaderBuildsMissingDocument(t *testing.T) {
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	l := NewLoader(config, catalog, WithLoaderClock(func() time.Time { return fixedNow }))

	reg := mustLoad(t, l)
	st := l.Status()
	if !st.Rebuilt || st.Reason != ReasonMissing || st.Count != 4 {
		t.Errorf("status = %+v", st)
	}
	if reg.Count() != 4 || !reg.GeneratedAt().Equal(fixedNow) {
		t.Errorf("registry count %d generated %v", reg.Count(), reg.GeneratedAt())
	}
	if _, err := os.Stat(config.RegistryPath); err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if l.Document() == nil || l.Document().Metadata.Count != 4 {
		t.Error("Document() should expose the compiled document")
	}
}

func TestLoaderProductionTrustsDocument(t *testing.T) {
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	mustLoad(t, NewLoader(config, catalog))
	settle(t, config)

	// A newer manifest and a removed controller are both ignored.
	touch(t, filepath.Join(config.HandlerDir, "catalog", "product.hcl"), time.Hour)
	l := NewLoader(config, NewCatalog())
	reg := mustLoad(t, l)
	if l.Status().Rebuilt || !l.Status().Fresh() {
		t.Errorf("production should accept the document, status %+v", l.Status())
	}
	if reg.Count() != 4 {
		t.Errorf("Count() = %d", reg.Count())
	}
}

func TestLoaderDevelopmentStaleness(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, config *Config)
		reason LoadReason
	}{
		{"unchanged", func(*testing.T, *Config) {}, ReasonNone},
		{"newer manifest", func(t *testing.T, c *Config) {
			touch(t, filepath.Join(c.HandlerDir, "catalog", "product.hcl"), 0)
		}, ReasonStale},
		{"added manifest", func(t *testing.T, c *Config) {
			writeFile(t, c.HandlerDir, "catalog/extra.hcl", `controller { handle = "extra" }`)
		}, ReasonStale},
		{"vanished manifest", func(t *testing.T, c *Config) {
			if err := os.Remove(filepath.Join(c.HandlerDir, "admin", "settings.hcl")); err != nil {
				t.Fatal(err)
			}
		}, ReasonStale},
		{"critical file", func(t *testing.T, c *Config) {
			path := writeFile(t, filepath.Dir(c.HandlerDir), "janus.yaml", "mode: development\n")
			touch(t, path, 0)
		}, ReasonStale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig(t)
			config.Mode = ModeDevelopment
			config.CriticalFiles = []string{filepath.Join(filepath.Dir(config.HandlerDir), "janus.yaml")}
			catalog, _ := shopFixture(t, config)
			mustLoad(t, NewLoader(config, catalog))
			settle(t, config)

			tc.mutate(t, config)
			l := NewLoader(config, catalog)
			st, err := l.Check(context.Background())
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if st.Reason != tc.reason {
				t.Fatalf("Check reason = %q, want %q", st.Reason, tc.reason)
			}

			mustLoad(t, l)
			if got := l.Status(); got.Rebuilt != (tc.reason != ReasonNone) || got.Reason != tc.reason {
				t.Errorf("Load status = %+v", got)
			}
		})
	}
}

func TestLoaderDevelopmentOrphaned(t *testing.T) {
	config := testConfig(t)
	config.Mode = ModeDevelopment
	catalog, _ := shopFixture(t, config)
	mustLoad(t, NewLoader(config, catalog))
	settle(t, config)

	smaller := NewCatalog()
	for _, id := range []string{"controllers.catalog.product", "controllers.home.index", "controllers.errors.missing"} {
		smaller.Register(id, func() Handler { return &echoController{} })
	}
	l := NewLoader(config, smaller)
	reg := mustLoad(t, l)
	if l.Status().Reason != ReasonOrphaned {
		t.Errorf("reason = %q, want orphaned", l.Status().Reason)
	}
	if reg.Count() != 3 {
		t.Errorf("Count() = %d, want 3 after rebuild", reg.Count())
	}
}

func TestLoaderDiscardsUnusableDocuments(t *testing.T) {
	cases := map[string]struct {
		body   string
		reason LoadReason
	}{
		"corrupt": {"{definitely not json", ReasonCorrupt},
		"version": {`{"metadata":{"schemaVersion":"janus/1","count":0},"controllers":{}}`, ReasonVersion},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			config := testConfig(t)
			config.Audit = AuditConfig{Enabled: true, OutputFile: filepath.Join(t.TempDir(), "audit.jsonl")}
			catalog, _ := shopFixture(t, config)
			if err := os.WriteFile(config.RegistryPath, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}

			audit, err := NewAuditLogger(config.Audit)
			if err != nil {
				t.Fatalf("NewAuditLogger: %v", err)
			}
			l := NewLoader(config, catalog, WithLoaderAudit(audit))
			mustLoad(t, l)
			if l.Status().Reason != tc.reason || !l.Status().Rebuilt {
				t.Errorf("status = %+v", l.Status())
			}
			if err := audit.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			events := readAuditEvents(t, config.Audit.OutputFile)
			var names []string
			for _, ev := range events {
				names = append(names, ev.Event)
			}
			if strings.Join(names, ",") != "registry_discarded,registry_rebuild" {
				t.Errorf("audit events = %v", names)
			}

			doc, err := ReadDocument(config.RegistryPath, config.DocumentFormat)
			if err != nil || doc.Metadata.SchemaVersion != SchemaVersion {
				t.Errorf("document not rewritten: %v", err)
			}
		})
	}
}

func TestLoaderCheckDoesNotTouchFiles(t *testing.T) {
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	if err := os.WriteFile(config.RegistryPath, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := NewLoader(config, catalog).Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st.Reason != ReasonCorrupt || st.Rebuilt {
		t.Errorf("status = %+v", st)
	}
	if data, _ := os.ReadFile(config.RegistryPath); string(data) != "garbage" {
		t.Error("Check must not rewrite the document")
	}
}

func TestLoaderRebuildForced(t *testing.T) {
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	l := NewLoader(config, catalog)
	mustLoad(t, l)

	doc, err := l.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if doc.Metadata.Count != 4 || !l.Status().Rebuilt {
		t.Errorf("Rebuild count %d status %+v", doc.Metadata.Count, l.Status())
	}
}

func TestLoaderUnwritableDocumentStillServes(t *testing.T) {
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	blocker := writeFile(t, t.TempDir(), "blocker", "x")
	config.RegistryPath = filepath.Join(blocker, "registry.json")

	reg := mustLoad(t, NewLoader(config, catalog))
	if reg.Count() != 4 {
		t.Errorf("Count() = %d", reg.Count())
	}
}

func TestLoaderPropagatesRegistrationErrors(t *testing.T) {
	config := testConfig(t)
	catalog := NewCatalog()
	catalog.Register("controllers.bad", func() Handler { return &echoController{} })
	writeFile(t, config.HandlerDir, "bad.hcl", `controller { handle_scope = "instance" }`)

	if _, err := NewLoader(config, catalog).Load(context.Background()); !IsRegistrationError(err) {
		t.Errorf("expected registration error, got %v", err)
	}
	if _, err := os.Stat(config.RegistryPath); !os.IsNotExist(err) {
		t.Error("no document should be written after a registration error")
	}
}

func TestLoaderInvalidConfig(t *testing.T) {
	l := NewLoader(&Config{Logger: discardLogger()}, NewCatalog())
	if _, err := l.Load(context.Background()); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}
	if _, err := l.Check(context.Background()); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}
}

func TestLoaderConcurrentLoads(t *testing.T) {
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	l := NewLoader(config, catalog)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := l.Load(context.Background())
			if err == nil && reg.Count() != 4 {
				err = os.ErrInvalid
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Load: %v", err)
		}
	}
}

func readAuditEvents(t *testing.T, path string) []AuditEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer func() { _ = f.Close() }()

	var out []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode audit line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}
