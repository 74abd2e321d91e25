// document.go: Compiled registry document, codecs and atomic persistence
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// DocumentMetadata is the self-describing header of a registry document.
type DocumentMetadata struct {
	GeneratedAt   time.Time `json:"generatedAt" yaml:"generatedAt"`
	SchemaVersion string    `json:"schemaVersion" yaml:"schemaVersion"`
	Count         int       `json:"count" yaml:"count"`
}

// DocumentEntry is the persisted form of a ControllerDescriptor.
type DocumentEntry struct {
	Type          ControllerType               `json:"type" yaml:"type"`
	Handle        string                       `json:"handle" yaml:"handle"`
	Mixins        []string                     `json:"mixins" yaml:"mixins"`
	Actions       []string                     `json:"actions" yaml:"actions"`
	Guards        map[string][]GuardDescriptor `json:"guards,omitempty" yaml:"guards,omitempty"`
	SourceFile    string                       `json:"sourceFilePath" yaml:"sourceFilePath"`
	SourceModTime time.Time                    `json:"sourceFileModifiedAt" yaml:"sourceFileModifiedAt"`
}

// Document is the durable compiled registry.
type Document struct {
	Metadata    DocumentMetadata         `json:"metadata" yaml:"metadata"`
	Controllers map[string]DocumentEntry `json:"controllers" yaml:"controllers"`
}

// Compile turns scanned descriptors into a document stamped with now.
func Compile(descs []ControllerDescriptor, now time.Time) *Document {
	doc := &Document{
		Metadata: DocumentMetadata{
			GeneratedAt:   now.UTC(),
			SchemaVersion: SchemaVersion,
			Count:         len(descs),
		},
		Controllers: make(map[string]DocumentEntry, len(descs)),
	}
	for _, d := range descs {
		doc.Controllers[d.Identity] = DocumentEntry{
			Type:          d.Type,
			Handle:        d.Handle,
			Mixins:        nonNil(d.Mixins),
			Actions:       nonNil(d.Actions),
			Guards:        d.Guards,
			SourceFile:    d.SourceFile,
			SourceModTime: d.SourceModTime.UTC(),
		}
	}
	doc.Metadata.Count = len(doc.Controllers)
	return doc
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string{}, s...)
}

// Descriptors returns the document's controllers sorted by identity.
func (d *Document) Descriptors() []ControllerDescriptor {
	ids := make([]string, 0, len(d.Controllers))
	for id := range d.Controllers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ControllerDescriptor, 0, len(ids))
	for _, id := range ids {
		e := d.Controllers[id]
		out = append(out, ControllerDescriptor{
			Identity:      id,
			Handle:        e.Handle,
			Type:          e.Type,
			Actions:       e.Actions,
			Mixins:        e.Mixins,
			Guards:        e.Guards,
			SourceFile:    e.SourceFile,
			SourceModTime: e.SourceModTime,
		})
	}
	return out
}

// Registry builds the in-memory registry for the document. Registration
// follows identity order so duplicate handles resolve deterministically.
func (d *Document) Registry() *Registry {
	reg := NewRegistry()
	reg.RegisterDescriptors(d.Descriptors())
	reg.version = d.Metadata.SchemaVersion
	reg.generatedAt = d.Metadata.GeneratedAt
	return reg
}

// validate checks structure only. Schema version is compared by the loader.
func (d *Document) validate() error {
	if d.Metadata.SchemaVersion == "" {
		return newCorruption("document has no schema version")
	}
	if d.Controllers == nil {
		return newCorruption("document has no controllers section")
	}
	if d.Metadata.Count != len(d.Controllers) {
		return newCorruption("document count does not match controllers").
			WithContext("count", d.Metadata.Count).
			WithContext("controllers", len(d.Controllers))
	}
	for id, e := range d.Controllers {
		if id == "" || e.Handle == "" {
			return newCorruption("document entry is missing identity or handle").WithContext("identity", id)
		}
	}
	return nil
}

// EncodeDocument serializes doc in the given format. JSON output is
// indented with sorted keys.
func EncodeDocument(doc *Document, format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, errors.Wrap(err, ErrCodeSerialization, "cannot encode registry document")
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(err, ErrCodeSerialization, "cannot encode registry document")
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeSerialization, "cannot encode registry document")
		}
		return append(data, '\n'), nil
	default:
		return nil, errors.New(ErrCodeInvalidConfig, "unsupported document format").WithContext("format", format)
	}
}

// DecodeDocument parses and structurally validates a document. Any failure
// is reported as cache corruption.
func DecodeDocument(data []byte, format string) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON, "":
		err = json.Unmarshal(data, &doc)
	default:
		return nil, errors.New(ErrCodeInvalidConfig, "unsupported document format").WithContext("format", format)
	}
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeCacheCorruption, "cannot decode registry document")
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ReadDocument loads the document at path. A missing file is reported with
// os.ErrNotExist in the chain.
func ReadDocument(path, format string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeDocumentIO, "cannot read registry document").WithContext("path", path)
	}
	return DecodeDocument(data, format)
}

// WriteDocument atomically replaces the document at path.
func WriteDocument(path string, doc *Document, format string) error {
	data, err := EncodeDocument(doc, format)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return errors.Wrap(err, ErrCodeDocumentIO, "cannot write registry document").WithContext("path", path)
	}
	return nil
}

// writeFileAtomic writes data to a temporary sibling of path, syncs it and
// renames it into place, so readers see either the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", filepath.Base(path), time.Now().UnixNano()))

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm) // #nosec G304 -- derived from path
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}
