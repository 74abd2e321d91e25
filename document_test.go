// document_test.go: Registry document compile, codec and atomic write tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func shopDescriptors(t *testing.T) []ControllerDescriptor {
	t.Helper()
	config := testConfig(t)
	catalog, _ := shopFixture(t, config)
	return scan(t, config, catalog)
}

func TestDocumentRoundTrip(t *testing.T) {
	descs := shopDescriptors(t)
	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			doc := Compile(descs, fixedNow)
			data, err := EncodeDocument(doc, format)
			if err != nil {
				t.Fatalf("EncodeDocument: %v", err)
			}
			back, err := DecodeDocument(data, format)
			if err != nil {
				t.Fatalf("DecodeDocument: %v", err)
			}
			if diff := cmp.Diff(descs, back.Descriptors(), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("descriptors mismatch (-want +got):\n%s", diff)
			}
			if !back.Metadata.GeneratedAt.Equal(fixedNow) {
				t.Errorf("GeneratedAt = %v", back.Metadata.GeneratedAt)
			}
			if back.Metadata.SchemaVersion != SchemaVersion || back.Metadata.Count != len(descs) {
				t.Errorf("metadata mismatch: %+v", back.Metadata)
			}
		})
	}
}

func TestDocumentEncodingIsDeterministic(t *testing.T) {
	descs := shopDescriptors(t)
	a, _ := EncodeDocument(Compile(descs, fixedNow), FormatJSON)
	b, _ := EncodeDocument(Compile(descs, fixedNow), FormatJSON)
	if !bytes.Equal(a, b) {
		t.Fatal("same input produced different documents")
	}

	c, _ := EncodeDocument(Compile(descs, fixedNow.Add(time.Hour)), FormatJSON)
	la, lc := strings.Split(string(a), "\n"), strings.Split(string(c), "\n")
	if len(la) != len(lc) {
		t.Fatalf("line counts differ: %d vs %d", len(la), len(lc))
	}
	var differing []string
	for i := range la {
		if la[i] != lc[i] {
			differing = append(differing, strings.TrimSpace(la[i]))
		}
	}
	if len(differing) != 1 || !strings.HasPrefix(differing[0], `"generatedAt"`) {
		t.Errorf("only generatedAt should differ, got %q", differing)
	}
}

func TestDocumentJSONShape(t *testing.T) {
	data, err := EncodeDocument(Compile(shopDescriptors(t), fixedNow), FormatJSON)
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"schemaVersion": "` + SchemaVersion + `"`,
		`"controllers.catalog.product"`,
		`"type": "notfound"`,
		`"sourceFilePath"`,
		`"sourceFileModifiedAt"`,
		`"rule": "capability"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("document missing %s", want)
		}
	}
	if !strings.HasSuffix(s, "}\n") {
		t.Error("document should end with a newline")
	}
}

func TestDocumentRegistry(t *testing.T) {
	doc := Compile(shopDescriptors(t), fixedNow)
	reg := doc.Registry()
	if !reg.GeneratedAt().Equal(fixedNow) || reg.SchemaVersion() != SchemaVersion {
		t.Errorf("registry metadata = %v, %q", reg.GeneratedAt(), reg.SchemaVersion())
	}
	r := NewResolver(reg)
	if id, ok := r.Resolve(TypeAdmin, "settings"); !ok || id != "controllers.admin.settings" {
		t.Errorf("admin settings resolved to %q, %v", id, ok)
	}
	if id, _ := r.DefaultController(); id != "controllers.home.index" {
		t.Errorf("default = %q", id)
	}
	if id, _ := r.NotFoundController(); id != "controllers.errors.missing" {
		t.Errorf("not found = %q", id)
	}
}

func TestDecodeDocumentCorruption(t *testing.T) {
	valid := `{"metadata":{"schemaVersion":"` + SchemaVersion + `","count":1,"generatedAt":"2025-01-01T00:00:00Z"},` +
		`"controllers":{"a":{"type":"view","handle":"a","mixins":[],"actions":[]}}}`
	if _, err := DecodeDocument([]byte(valid), FormatJSON); err != nil {
		t.Fatalf("valid fixture rejected: %v", err)
	}

	cases := map[string]string{
		"garbage":        "{not json",
		"no schema":      `{"metadata":{"count":0},"controllers":{}}`,
		"no controllers": `{"metadata":{"schemaVersion":"x","count":0}}`,
		"count mismatch": strings.Replace(valid, `"count":1`, `"count":2`, 1),
		"empty handle":   strings.Replace(valid, `"handle":"a"`, `"handle":""`, 1),
		"unknown type":   strings.Replace(valid, `"type":"view"`, `"type":"gadget"`, 1),
	}
	for name, data := range cases {
		if _, err := DecodeDocument([]byte(data), FormatJSON); !HasCode(err, ErrCodeCacheCorruption) {
			t.Errorf("%s: expected corruption error, got %v", name, err)
		}
	}
	if _, err := DecodeDocument([]byte(valid), "toml"); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("unsupported format should be a config error, got %v", err)
	}
	if _, err := EncodeDocument(&Document{}, "toml"); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("unsupported format should be a config error, got %v", err)
	}
}

func TestWriteAndReadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "registry.yaml")
	doc := Compile(shopDescriptors(t), fixedNow)

	if err := WriteDocument(path, doc, FormatYAML); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	back, err := ReadDocument(path, FormatYAML)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if back.Metadata.Count != doc.Metadata.Count {
		t.Errorf("count = %d, want %d", back.Metadata.Count, doc.Metadata.Count)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}

	if _, err := ReadDocument(filepath.Join(dir, "absent.json"), FormatJSON); !HasCode(err, ErrCodeDocumentIO) {
		t.Errorf("missing document should be a document I/O error, got %v", err)
	}
}
