// config.go: Configuration management for Janus
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Mode selects the staleness policy of the registry loader.
type Mode int

const (
	// ModeProduction trusts any persisted document whose schema version
	// matches. No file is stat'ed on the request path.
	ModeProduction Mode = iota

	// ModeDevelopment re-checks critical files and the handler tree against
	// the document timestamp on every load.
	ModeDevelopment
)

func (m Mode) String() string {
	if m == ModeDevelopment {
		return "development"
	}
	return "production"
}

// ParseMode accepts "dev", "development", "prod" and "production".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development":
		return ModeDevelopment, nil
	case "", "prod", "production":
		return ModeProduction, nil
	default:
		return ModeProduction, errors.New(ErrCodeInvalidConfig, "unknown mode").WithContext("mode", s)
	}
}

// UnknownGuardPolicy decides what happens when a guard descriptor names a
// rule no handler is registered for.
type UnknownGuardPolicy int

const (
	// UnknownGuardWarn logs a warning and lets the guard pass.
	UnknownGuardWarn UnknownGuardPolicy = iota
	// UnknownGuardIgnore lets the guard pass silently.
	UnknownGuardIgnore
	// UnknownGuardReject counts the guard as failed.
	UnknownGuardReject
)

// ParseUnknownGuardPolicy accepts "warn", "ignore" and "reject".
func ParseUnknownGuardPolicy(s string) (UnknownGuardPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return UnknownGuardWarn, nil
	case "ignore":
		return UnknownGuardIgnore, nil
	case "reject":
		return UnknownGuardReject, nil
	default:
		return UnknownGuardWarn, errors.New(ErrCodeInvalidConfig, "unknown guard policy").WithContext("policy", s)
	}
}

// Document formats understood by the compiler.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Defaults
const (
	DefaultNamespace      = "controllers"
	DefaultHandlerPattern = "**/*.hcl"
	DefaultRegistryFile   = "janus-registry.json"
	DefaultCacheTTL       = time.Hour
	DefaultTokenLifetime  = 12 * time.Hour
	DefaultTokenField     = "_token"
)

// Config configures the registry, the guard pipeline and the cache.
type Config struct {
	// Mode selects the loader staleness policy.
	// Default: ModeProduction
	Mode Mode `yaml:"-"`

	// HandlerDir is the root of the handler manifest tree.
	HandlerDir string `yaml:"handler_dir"`

	// HandlerPattern selects manifest files under HandlerDir (doublestar syntax,
	// matched against the slash-separated relative path).
	// Default: **/*.hcl
	HandlerPattern string `yaml:"handler_pattern"`

	// Namespace prefixes every derived controller identity.
	// Default: controllers
	Namespace string `yaml:"namespace"`

	// RegistryPath is where the compiled document lives.
	// Default: <HandlerDir>/../janus-registry.json
	RegistryPath string `yaml:"registry_path"`

	// DocumentFormat is json or yaml. Empty picks from the RegistryPath extension.
	DocumentFormat string `yaml:"document_format"`

	// CriticalFiles are framework files whose change invalidates the registry
	// in development mode regardless of the handler tree.
	CriticalFiles []string `yaml:"critical_files"`

	// ReservedActions are lifecycle names never exposed as actions.
	// Default: handle, boot, configure, render, shutdown, instance
	ReservedActions []string `yaml:"reserved_actions"`

	// StrictHandles turns duplicate (type, handle) pairs into a registration
	// error instead of letting the later controller win.
	StrictHandles bool `yaml:"strict_handles"`

	// UnknownGuards selects the policy for guard rules with no handler.
	// Default: UnknownGuardWarn
	UnknownGuards UnknownGuardPolicy `yaml:"-"`

	// CacheStore is the durable cache location (file path or store URL).
	// Empty keeps the durable tier in memory only.
	CacheStore string `yaml:"cache_store"`

	// DefaultCacheTTL applies to response cache guards without a ttl parameter.
	// Default: 1h
	DefaultCacheTTL time.Duration `yaml:"default_cache_ttl"`

	// TokenSecret signs one-time tokens. Required for the token guard.
	TokenSecret string `yaml:"token_secret"`

	// TokenLifetime bounds how long an issued token stays valid.
	// Default: 12h
	TokenLifetime time.Duration `yaml:"token_lifetime"`

	// Audit configures the audit trail. Disabled unless Enabled is set.
	Audit AuditConfig `yaml:"audit"`

	// Logger receives operational logs. Default: slog.Default()
	Logger *slog.Logger `yaml:"-"`
}

// defaultReservedActions are the lifecycle hooks every controller inherits.
var defaultReservedActions = []string{"handle", "boot", "configure", "render", "shutdown", "instance"}

// WithDefaults applies sensible defaults to the configuration
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.HandlerPattern == "" {
		config.HandlerPattern = DefaultHandlerPattern
	}
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.RegistryPath == "" && config.HandlerDir != "" {
		config.RegistryPath = filepath.Join(filepath.Dir(filepath.Clean(config.HandlerDir)), DefaultRegistryFile)
	}
	if config.DocumentFormat == "" {
		config.DocumentFormat = formatForPath(config.RegistryPath)
	}
	if len(config.ReservedActions) == 0 {
		config.ReservedActions = append([]string(nil), defaultReservedActions...)
	}
	if config.DefaultCacheTTL <= 0 {
		config.DefaultCacheTTL = DefaultCacheTTL
	}
	if config.TokenLifetime <= 0 {
		config.TokenLifetime = DefaultTokenLifetime
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &config
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if c.HandlerDir == "" {
		return errors.New(ErrCodeInvalidConfig, "handler directory is required")
	}
	if c.RegistryPath == "" {
		return errors.New(ErrCodeInvalidConfig, "registry path is required")
	}
	if c.DocumentFormat != FormatJSON && c.DocumentFormat != FormatYAML {
		return errors.New(ErrCodeInvalidConfig, "unsupported document format").
			WithContext("format", c.DocumentFormat)
	}
	if strings.HasPrefix(c.Namespace, ".") || strings.HasSuffix(c.Namespace, ".") {
		return errors.New(ErrCodeInvalidConfig, "namespace must not start or end with a dot").
			WithContext("namespace", c.Namespace)
	}
	return nil
}

// formatForPath picks the document codec from the file extension.
func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
