// Command handlers for the Janus CLI
//
// Each handler reads its arguments from the Orpheus context and delegates to
// a plain method that tests can call directly.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/janus"
	ui "github.com/agilira/janus/internal/cli"
	"github.com/agilira/orpheus/pkg/orpheus"
)

func (m *Manager) handleRegistryBuild(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.buildRegistry(context.Background(), cfg)
}

func (m *Manager) handleRegistryCheck(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.checkRegistry(context.Background(), cfg, ctx.GetFlagBool("fail"))
}

func (m *Manager) handleRegistryShow(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.showRegistry(cfg)
}

func (m *Manager) handleRegistryResolve(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.resolve(cfg, ctx.GetArg(0), ctx.GetArg(1))
}

func (m *Manager) handleRegistryWatch(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	interval := janus.DefaultPollInterval
	if raw := ctx.GetFlagString("interval"); raw != "" {
		if interval, err = ui.ParseDuration(raw); err != nil {
			return errors.Wrap(err, janus.ErrCodeInvalidConfig, "invalid poll interval")
		}
	}
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return m.watchRegistry(sigCtx, cfg, interval)
}

func (m *Manager) handleCacheStats(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.cacheStats(storeLocation(cfg, ctx.GetFlagString("store")))
}

func (m *Manager) handleCachePurge(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.cachePurge(context.Background(), storeLocation(cfg, ctx.GetFlagString("store")))
}

func (m *Manager) handleTokenIssue(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	lifetime := cfg.TokenLifetime
	if raw := ctx.GetFlagString("lifetime"); raw != "" {
		if lifetime, err = ui.ParseDuration(raw); err != nil {
			return errors.Wrap(err, janus.ErrCodeInvalidConfig, "invalid token lifetime")
		}
	}
	return m.issueToken(cfg, ctx.GetArg(0), ctx.GetArg(1), lifetime)
}

func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	cfg, err := m.configFrom(ctx)
	if err != nil {
		return err
	}
	return m.info(cfg, ctx.GetFlagBool("verbose"))
}

// requireCatalog refuses commands whose result depends on concrete
// controllers when the manager was built without any. An empty catalog
// skips every manifest, so a rebuild would replace the service document
// with an empty one.
func (m *Manager) requireCatalog(command string) error {
	if m.catalog.Len() > 0 {
		return nil
	}
	return errors.New(janus.ErrCodeInvalidConfig,
		"no controllers registered; run this command from a binary that embeds the service catalog").
		WithContext("command", command)
}

// buildRegistry rescans the handler tree and rewrites the document.
func (m *Manager) buildRegistry(ctx context.Context, cfg *janus.Config) error {
	if err := m.requireCatalog("registry build"); err != nil {
		return err
	}
	loader := janus.NewLoader(cfg, m.catalog)
	doc, err := loader.Rebuild(ctx)
	if err != nil {
		return err
	}
	m.printf("Compiled %s into %s (%s)\n",
		ui.Count(doc.Metadata.Count, "controller"), loader.Config().RegistryPath, loader.Config().DocumentFormat)
	return nil
}

// checkRegistry reports the loader decision without changing anything.
func (m *Manager) checkRegistry(ctx context.Context, cfg *janus.Config, fail bool) error {
	// Development checks compare the document against the catalog.
	if cfg.Mode == janus.ModeDevelopment {
		if err := m.requireCatalog("registry check"); err != nil {
			return err
		}
	}
	st, err := janus.NewLoader(cfg, m.catalog).Check(ctx)
	if err != nil {
		return err
	}
	if st.Fresh() {
		m.printf("fresh: %s (%s, %s mode, generated %s)\n",
			st.Path, ui.Count(st.Count, "controller"), st.Mode, ui.Age(st.GeneratedAt))
		return nil
	}
	m.printf("rebuild needed: %s (%s)\n", st.Path, st.Reason)
	if fail {
		return errors.New(janus.ErrCodeDocumentIO, "registry document needs a rebuild").
			WithContext("reason", string(st.Reason))
	}
	return nil
}

// watchRegistry loads the registry, then rebuilds it whenever the loader
// reports it stale. It returns once ctx is done.
func (m *Manager) watchRegistry(ctx context.Context, cfg *janus.Config, interval time.Duration) error {
	if err := m.requireCatalog("registry watch"); err != nil {
		return err
	}
	loader := janus.NewLoader(cfg, m.catalog)
	reg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	m.printf("watching %s (%s, %s mode, every %s)\n",
		loader.Config().HandlerDir, ui.Count(reg.Count(), "controller"), loader.Config().Mode, interval)

	w := janus.NewWatcher(loader,
		janus.WithPollInterval(interval),
		janus.OnRebuild(func(reg *janus.Registry, st janus.LoadStatus) {
			m.printf("rebuilt: %s (%s)\n", ui.Count(reg.Count(), "controller"), st.Reason)
		}),
		janus.WithWatchErrorHandler(func(err error) {
			m.printf("rebuild failed: %v\n", err)
		}),
	)
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// showRegistry lists the compiled controllers.
func (m *Manager) showRegistry(cfg *janus.Config) error {
	doc, err := janus.ReadDocument(cfg.RegistryPath, cfg.DocumentFormat)
	if err != nil {
		return err
	}
	m.printf("%s  schema %s  generated %s\n\n",
		cfg.RegistryPath, doc.Metadata.SchemaVersion, ui.Age(doc.Metadata.GeneratedAt))

	tbl := ui.NewTable(m.out, "TYPE", "HANDLE", "IDENTITY", "ACTIONS", "GUARDS")
	for _, d := range doc.Descriptors() {
		tbl.Row(d.Type.String(), d.Handle, d.Identity, strings.Join(d.Actions, ","), guardSummary(d))
	}
	return tbl.Flush()
}

// resolve maps a type name and handle to an identity, falling back to the
// not-found controller like the dispatcher does.
func (m *Manager) resolve(cfg *janus.Config, typeName, handle string) error {
	if typeName == "" {
		return errors.New(janus.ErrCodeInvalidConfig, "usage: janus registry resolve <type> <handle>")
	}
	if _, ok := janus.ParseControllerType(typeName); !ok {
		return errors.New(janus.ErrCodeInvalidConfig, "unknown controller type").WithContext("type", typeName)
	}
	doc, err := janus.ReadDocument(cfg.RegistryPath, cfg.DocumentFormat)
	if err != nil {
		return err
	}
	resolver := janus.NewResolver(doc.Registry(), janus.WithResolverLogger(m.logger))
	if id, ok := resolver.ResolveName(typeName, handle); ok {
		m.printf("%s\n", id)
		return nil
	}
	id, err := resolver.NotFoundController()
	if err != nil {
		return err
	}
	m.printf("%s (not found fallback)\n", id)
	return nil
}

// cacheStats loads the durable tier and reports its size.
func (m *Manager) cacheStats(location string) error {
	store, err := janus.OpenStore(location)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	st := janus.NewCache(store, janus.WithCacheLogger(m.logger)).Stats()
	m.printf("store: %s\n", describeStore(location))
	m.printf("entries: %s\n", ui.Count(st.DurableEntries, "entry"))
	if fs, ok := store.(*janus.FileStore); ok {
		if info, err := os.Stat(fs.Path()); err == nil {
			m.printf("size: %s (modified %s)\n", ui.Bytes(info.Size()), ui.Age(info.ModTime()))
		}
	}
	return nil
}

func (m *Manager) cachePurge(ctx context.Context, location string) error {
	store, err := janus.OpenStore(location)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := janus.NewCache(store, janus.WithCacheLogger(m.logger)).Purge(ctx); err != nil {
		return err
	}
	m.printf("purged %s\n", describeStore(location))
	return nil
}

// issueToken prints a token; nonces are tracked by the verifying service,
// so the local cache here is throwaway.
func (m *Manager) issueToken(cfg *janus.Config, session, purpose string, lifetime time.Duration) error {
	if session == "" || purpose == "" {
		return errors.New(janus.ErrCodeInvalidConfig, "usage: janus token issue <session> <purpose>")
	}
	if cfg.TokenSecret == "" {
		return errors.New(janus.ErrCodeInvalidConfig, "token secret is not configured (JANUS_TOKEN_SECRET)")
	}
	guard, err := janus.NewTokenGuard([]byte(cfg.TokenSecret), janus.NewCache(nil), janus.WithTokenLifetime(lifetime))
	if err != nil {
		return err
	}
	token, err := guard.Issue(session, purpose)
	if err != nil {
		return err
	}
	m.printf("%s\n", token)
	return nil
}

func (m *Manager) info(cfg *janus.Config, verbose bool) error {
	m.printf("Janus controller registry %s\n", Version)
	m.printf("Schema: %s\n", janus.SchemaVersion)
	m.printf("Store schemes: %s\n", strings.Join(janus.StoreSchemes(), ", "))
	m.printf("Catalog: %s\n", ui.Count(len(m.catalog.Identities()), "controller"))
	if !verbose {
		return nil
	}

	m.printf("\nConfiguration:\n")
	tbl := ui.NewTable(m.out)
	tbl.Row("mode", cfg.Mode.String())
	tbl.Row("handler dir", cfg.HandlerDir)
	tbl.Row("handler pattern", cfg.HandlerPattern)
	tbl.Row("namespace", cfg.Namespace)
	tbl.Row("registry", cfg.RegistryPath+" ("+cfg.DocumentFormat+")")
	tbl.Row("critical files", strings.Join(cfg.CriticalFiles, ", "))
	tbl.Row("cache store", describeStore(cfg.CacheStore))
	tbl.Row("cache ttl", cfg.DefaultCacheTTL.String())
	tbl.Row("token lifetime", cfg.TokenLifetime.String())
	tbl.Row("token secret", redact(cfg.TokenSecret))
	tbl.Row("audit", fmt.Sprintf("%v", cfg.Audit.Enabled))
	return tbl.Flush()
}

func (m *Manager) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(m.out, format, args...)
}
