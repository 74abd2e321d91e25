// helpers_test.go: Shared fixtures for the janus tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// echoController replies with its name and counts calls.
type echoController struct {
	name  string
	calls int
}

func (c *echoController) Handle(_ context.Context, req *Request) (*Reply, error) {
	c.calls++
	body := c.name
	if req != nil && req.Action.Name != "" {
		body += "." + req.Action.Name
	}
	return &Reply{Status: 200, Body: []byte(body)}, nil
}

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFile writes body to dir/rel, creating parents.
func writeFile(t *testing.T, dir, rel, body string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// touch moves the mtime of path by offset relative to now.
func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	ts := time.Now().Add(offset)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// testConfig returns a configuration with a fresh handler directory inside
// a temporary root. The registry document sits next to the directory.
func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "handlers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return (&Config{HandlerDir: dir, Logger: discardLogger()}).WithDefaults()
}

const productManifest = `
controller {
  handle = "product"
  action "view" {
    guard "capability" { require = ["catalog.read"] }
    guard "cache" {
      ttl     = 600
      vary_by = ["page"]
    }
  }
  action "save" {
    guard "token" { name = "product_form" }
  }
  action "helper" {
    static = true
  }
  action "_internal" {}
  action "render" {}
}
`

const homeManifest = `
controller {
  handle = "_default"
}
`

const missingManifest = `
controller {
  handle = "_404"
}
`

const settingsManifest = `
controller {
  handle = "settings"
  mixins = ["janus.admin"]
  action "update" {}
}
`

// shopFixture writes four manifests into config.HandlerDir and returns a
// catalog registering every one of them.
func shopFixture(t *testing.T, config *Config) (*Catalog, map[string]*echoController) {
	t.Helper()
	writeFile(t, config.HandlerDir, "catalog/product.hcl", productManifest)
	writeFile(t, config.HandlerDir, "home/index.hcl", homeManifest)
	writeFile(t, config.HandlerDir, "errors/missing.hcl", missingManifest)
	writeFile(t, config.HandlerDir, "admin/settings.hcl", settingsManifest)

	controllers := map[string]*echoController{}
	catalog := NewCatalog()
	for _, id := range []string{
		"controllers.catalog.product",
		"controllers.home.index",
		"controllers.errors.missing",
		"controllers.admin.settings",
	} {
		c := &echoController{name: id}
		controllers[id] = c
		catalog.Register(id, func() Handler { return c })
	}
	return catalog, controllers
}
