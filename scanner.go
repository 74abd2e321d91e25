// scanner.go: Handler tree discovery and controller classification
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/bmatcuk/doublestar"
)

// Scanner walks the handler tree and turns manifests into descriptors.
type Scanner struct {
	config  *Config
	catalog *Catalog
	logger  *slog.Logger
}

// NewScanner creates a scanner. config should already carry defaults.
func NewScanner(config *Config, catalog *Catalog) *Scanner {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{config: config, catalog: catalog, logger: logger}
}

// sourceFile is one manifest candidate found while walking.
type sourceFile struct {
	path     string
	identity string
	info     fs.FileInfo
}

// Scan walks the handler tree and returns descriptors sorted by identity.
// The first malformed controller aborts the scan with a registration error.
func (s *Scanner) Scan(ctx context.Context) ([]ControllerDescriptor, error) {
	files, err := s.sourceFiles(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[registryKey]string)
	descs := make([]ControllerDescriptor, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, ok, err := s.describe(f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if s.config.StrictHandles {
			key := registryKey{typ: desc.Type, handle: desc.Handle}
			if prev, dup := seen[key]; dup {
				return nil, newRegistrationError("duplicate controller handle").
					WithContext("handle", desc.Handle).
					WithContext("type", desc.Type.String()).
					WithContext("first", prev).
					WithContext("second", desc.Identity)
			}
			seen[key] = desc.Identity
		}
		descs = append(descs, desc)
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Identity < descs[j].Identity })
	return descs, nil
}

// sourceFiles lists every manifest under the handler directory.
func (s *Scanner) sourceFiles(ctx context.Context) ([]sourceFile, error) {
	root := s.config.HandlerDir
	var files []sourceFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		match, err := doublestar.Match(s.config.HandlerPattern, rel)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid handler pattern").
				WithContext("pattern", s.config.HandlerPattern)
		}
		if !match {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, sourceFile{path: path, identity: s.identityFor(rel), info: info})
		return nil
	})
	if err != nil {
		if HasCode(err, ErrCodeInvalidConfig) || isContextErr(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, ErrCodeRegistration, "cannot walk handler directory").
			WithContext("dir", root)
	}
	return files, nil
}

// identityFor maps a slash-separated relative path to a dotted identity.
func (s *Scanner) identityFor(rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	segments := strings.Split(rel, "/")
	if s.config.Namespace != "" {
		segments = append([]string{s.config.Namespace}, segments...)
	}
	return strings.Join(segments, ".")
}

// describe validates one manifest. ok is false when the file does not
// declare a concrete controller.
func (s *Scanner) describe(f sourceFile) (ControllerDescriptor, bool, error) {
	mc, err := parseManifest(f.path)
	if err != nil {
		return ControllerDescriptor{}, false, err
	}
	if mc == nil {
		s.logger.Debug("skipping file without controller block", "file", f.path)
		return ControllerDescriptor{}, false, nil
	}
	if mc.abstract() {
		s.logger.Debug("skipping abstract controller", "identity", f.identity)
		return ControllerDescriptor{}, false, nil
	}
	if !s.catalog.Has(f.identity) {
		s.logger.Warn("manifest has no registered controller, skipping", "identity", f.identity, "file", f.path)
		return ControllerDescriptor{}, false, nil
	}

	if err := s.validate(mc, f); err != nil {
		return ControllerDescriptor{}, false, err
	}

	mixins := make([]Mixin, 0, len(mc.Mixins))
	for _, name := range mc.Mixins {
		m, ok := s.catalog.Mixin(name)
		if !ok {
			return ControllerDescriptor{}, false, newRegistrationError("unknown mixin").
				WithContext("identity", f.identity).WithContext("mixin", name)
		}
		mixins = append(mixins, m)
	}

	actions, guards, err := s.extractActions(mc, mixins, f)
	if err != nil {
		return ControllerDescriptor{}, false, err
	}

	handle := mc.handle()
	return ControllerDescriptor{
		Identity:      f.identity,
		Handle:        handle,
		Type:          classify(handle, mixins),
		Actions:       actions,
		Mixins:        append([]string{}, mc.Mixins...),
		Guards:        guards,
		SourceFile:    f.path,
		SourceModTime: f.info.ModTime().UTC(),
	}, true, nil
}

// validate enforces the handle and base contract.
func (s *Scanner) validate(mc *manifestController, f sourceFile) error {
	fail := func(msg string) error {
		return newRegistrationError(msg).WithContext("identity", f.identity).WithContext("file", f.path)
	}
	if strings.TrimSpace(mc.handle()) == "" {
		return fail("controller does not declare a handle")
	}
	if scope := stringOr(mc.HandleScope, "class"); scope != "class" {
		return fail("controller handle must be class scoped, not " + scope)
	}
	if vis := stringOr(mc.HandleVisibility, "public"); vis != "public" {
		return fail("controller handle must be public, not " + vis)
	}
	if !s.catalog.descendsFromLifecycle(mc.extends()) {
		return fail("controller must descend from " + LifecycleBase + ", extends " + mc.extends())
	}
	return nil
}

// extractActions collects callable action names in declaration order:
// the controller's own actions, then inherited base methods, then mixin
// actions. Reserved, underscore-prefixed, static and core-base names are dropped.
func (s *Scanner) extractActions(mc *manifestController, mixins []Mixin, f sourceFile) ([]string, map[string][]GuardDescriptor, error) {
	chain, _ := s.catalog.ancestry(mc.extends())

	excluded := make(map[string]bool, len(s.config.ReservedActions))
	for _, name := range s.config.ReservedActions {
		excluded[strings.ToLower(name)] = true
	}
	var inherited []string
	for _, b := range chain {
		for _, m := range b.Methods {
			if b.Core {
				excluded[strings.ToLower(m)] = true
			} else {
				inherited = append(inherited, m)
			}
		}
	}

	actions := []string{}
	added := make(map[string]bool)
	add := func(name string) bool {
		key := strings.ToLower(name)
		if name == "" || strings.HasPrefix(name, "_") || excluded[key] || added[key] {
			return false
		}
		added[key] = true
		actions = append(actions, name)
		return true
	}

	var guards map[string][]GuardDescriptor
	for _, a := range mc.Actions {
		if a.static() || !add(a.Name) {
			continue
		}
		for _, g := range a.Guards {
			desc, err := decodeGuard(g, f.path)
			if err != nil {
				return nil, nil, err
			}
			if guards == nil {
				guards = make(map[string][]GuardDescriptor)
			}
			guards[a.Name] = append(guards[a.Name], desc)
		}
	}
	for _, name := range inherited {
		add(name)
	}
	for _, m := range mixins {
		for _, name := range m.Actions {
			add(name)
		}
	}
	return actions, guards, nil
}

// classify assigns the controller type. Widget is never produced here.
func classify(handle string, mixins []Mixin) ControllerType {
	switch handle {
	case HandleDefault:
		return TypeDefault
	case HandleNotFound:
		return TypeNotFound
	}
	for _, m := range mixins {
		if m.Admin {
			return TypeAdmin
		}
	}
	return TypeView
}
