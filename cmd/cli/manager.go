// Package cli provides the command-line interface for Janus registry operations.
//
// The CLI is built on Orpheus. Applications that register controllers embed
// it with their own catalog so that `registry build` and `registry check`
// see the same concrete controllers as the running service:
//
//	func main() {
//		catalog := janus.NewCatalog().Use(shop.Module{})
//		if err := cli.NewManager(catalog).Run(os.Args[1:]); err != nil {
//			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
//			os.Exit(1)
//		}
//	}
//
// Command groups:
//   - registry: build, check, show, resolve and watch the compiled document
//   - cache: inspect or purge the durable cache store
//   - token: issue one-time form tokens
//   - info: version and effective configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/agilira/janus"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// Version is the CLI release reported by info.
const Version = "1.0.0"

// Manager routes janus subcommands.
type Manager struct {
	app     *orpheus.App
	catalog *janus.Catalog
	out     io.Writer
	logger  *slog.Logger
}

// NewManager creates the CLI for catalog. A nil catalog only knows the
// built-in lifecycle base, which is enough for inspection commands.
func NewManager(catalog *janus.Catalog) *Manager {
	if catalog == nil {
		catalog = janus.NewCatalog()
	}
	app := orpheus.New("janus").
		SetDescription("Controller registry and guard pipeline tooling").
		SetVersion(Version)

	m := &Manager{
		app:     app,
		catalog: catalog,
		out:     os.Stdout,
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	m.setupRegistryCommands()
	m.setupCacheCommands()
	m.setupUtilityCommands()
	return m
}

// WithOutput redirects command output, mainly for tests.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// WithLogger replaces the stderr warning logger.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.logger = l
	return m
}

// Run executes the CLI with args, excluding the program name.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// configFlags adds the flags every command uses to locate its configuration.
func configFlags(cmd *orpheus.Command) *orpheus.Command {
	return cmd.
		AddFlag("config", "c", "", "YAML configuration file").
		AddFlag("handler-dir", "d", "", "Handler manifest directory").
		AddFlag("registry", "r", "", "Compiled registry document").
		AddFlag("mode", "m", "", "Loader mode (production|development)")
}

func (m *Manager) setupRegistryCommands() {
	registryCmd := orpheus.NewCommand("registry", "Compiled controller registry operations")

	// registry build [--config=] [--handler-dir=] [--registry=]
	configFlags(registryCmd.Subcommand("build", "Rescan handlers and rewrite the registry document", m.handleRegistryBuild))

	// registry check [--fail]
	checkCmd := configFlags(registryCmd.Subcommand("check", "Report whether the registry document is fresh", m.handleRegistryCheck))
	checkCmd.AddBoolFlag("fail", "f", false, "Exit with an error when a rebuild is needed")

	// registry show
	configFlags(registryCmd.Subcommand("show", "List compiled controllers", m.handleRegistryShow))

	// registry resolve <type> <handle>
	configFlags(registryCmd.Subcommand("resolve", "Resolve a type and handle to a controller identity", m.handleRegistryResolve))

	// registry watch [--interval=2s]
	watchCmd := configFlags(registryCmd.Subcommand("watch", "Rebuild the registry document whenever it goes stale", m.handleRegistryWatch))
	watchCmd.AddFlag("interval", "i", "", "Poll interval (e.g. 500ms, 2s)")

	m.app.AddCommand(registryCmd)
}

func (m *Manager) setupCacheCommands() {
	cacheCmd := orpheus.NewCommand("cache", "Durable cache store operations")

	statsCmd := configFlags(cacheCmd.Subcommand("stats", "Show durable cache contents", m.handleCacheStats))
	statsCmd.AddFlag("store", "s", "", "Cache store location (overrides configuration)")

	purgeCmd := configFlags(cacheCmd.Subcommand("purge", "Delete every cached entry", m.handleCachePurge))
	purgeCmd.AddFlag("store", "s", "", "Cache store location (overrides configuration)")

	m.app.AddCommand(cacheCmd)
}

func (m *Manager) setupUtilityCommands() {
	tokenCmd := orpheus.NewCommand("token", "One-time form tokens")
	issueCmd := configFlags(tokenCmd.Subcommand("issue", "Issue a token for <session> <purpose>", m.handleTokenIssue))
	issueCmd.AddFlag("lifetime", "l", "", "Token lifetime (e.g. 30m, 12h, 7d)")
	m.app.AddCommand(tokenCmd)

	infoCmd := configFlags(orpheus.NewCommand("info", "Version and effective configuration"))
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Show the full configuration")
	m.app.AddCommand(infoCmd)
}
