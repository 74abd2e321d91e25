// env_config.go: Environment, file and flag configuration sources for Janus
//
// Precedence, lowest first: defaults, YAML file, JANUS_* environment
// variables, command-line flags.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"os"
	"strconv"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Environment variable names.
const (
	EnvMode            = "JANUS_MODE"
	EnvHandlerDir      = "JANUS_HANDLER_DIR"
	EnvHandlerPattern  = "JANUS_HANDLER_PATTERN"
	EnvNamespace       = "JANUS_NAMESPACE"
	EnvRegistryPath    = "JANUS_REGISTRY_PATH"
	EnvDocumentFormat  = "JANUS_DOCUMENT_FORMAT"
	EnvCriticalFiles   = "JANUS_CRITICAL_FILES"
	EnvStrictHandles   = "JANUS_STRICT_HANDLES"
	EnvUnknownGuards   = "JANUS_UNKNOWN_GUARDS"
	EnvCacheStore      = "JANUS_CACHE_STORE"
	EnvCacheTTL        = "JANUS_CACHE_TTL"
	EnvTokenSecret     = "JANUS_TOKEN_SECRET"
	EnvTokenLifetime   = "JANUS_TOKEN_LIFETIME"
	EnvAuditEnabled    = "JANUS_AUDIT_ENABLED"
	EnvAuditOutputFile = "JANUS_AUDIT_OUTPUT_FILE"
	EnvAuditMinLevel   = "JANUS_AUDIT_MIN_LEVEL"
)

// fileOverlay carries the fields whose file form differs from Config.
type fileOverlay struct {
	Mode          string `yaml:"mode"`
	UnknownGuards string `yaml:"unknown_guards"`
}

// LoadConfigFromEnv builds a configuration from JANUS_* variables on top of defaults.
func LoadConfigFromEnv() (*Config, error) {
	config := &Config{Audit: DefaultAuditConfig()}
	if err := applyEnv(config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	return config.WithDefaults(), nil
}

// LoadConfigFile reads a YAML configuration file on top of defaults.
func LoadConfigFile(path string) (*Config, error) {
	config := &Config{Audit: DefaultAuditConfig()}
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	return config.WithDefaults(), nil
}

// LoadConfigMultiSource merges every source. configFile may be empty and is
// ignored when missing; args are command-line flags without the program name.
func LoadConfigMultiSource(configFile string, args []string) (*Config, error) {
	config := &Config{Audit: DefaultAuditConfig()}
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := applyFile(config, configFile); err != nil {
				return nil, err
			}
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	if err := applyFlags(config, args); err != nil {
		return nil, err
	}
	return config.WithDefaults(), nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "cannot read configuration file").WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "cannot parse configuration file").WithContext("path", path)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "cannot parse configuration file").WithContext("path", path)
	}
	if overlay.Mode != "" {
		if config.Mode, err = ParseMode(overlay.Mode); err != nil {
			return err
		}
	}
	if overlay.UnknownGuards != "" {
		if config.UnknownGuards, err = ParseUnknownGuardPolicy(overlay.UnknownGuards); err != nil {
			return err
		}
	}
	return nil
}

func applyEnv(config *Config) error {
	var err error
	if v := os.Getenv(EnvMode); v != "" {
		if config.Mode, err = ParseMode(v); err != nil {
			return err
		}
	}
	config.HandlerDir = GetEnvWithDefault(EnvHandlerDir, config.HandlerDir)
	config.HandlerPattern = GetEnvWithDefault(EnvHandlerPattern, config.HandlerPattern)
	config.Namespace = GetEnvWithDefault(EnvNamespace, config.Namespace)
	config.RegistryPath = GetEnvWithDefault(EnvRegistryPath, config.RegistryPath)
	config.DocumentFormat = GetEnvWithDefault(EnvDocumentFormat, config.DocumentFormat)
	if v := os.Getenv(EnvCriticalFiles); v != "" {
		config.CriticalFiles = splitList(v)
	}
	config.StrictHandles = GetEnvBoolWithDefault(EnvStrictHandles, config.StrictHandles)
	if v := os.Getenv(EnvUnknownGuards); v != "" {
		if config.UnknownGuards, err = ParseUnknownGuardPolicy(v); err != nil {
			return err
		}
	}
	config.CacheStore = GetEnvWithDefault(EnvCacheStore, config.CacheStore)
	config.DefaultCacheTTL = GetEnvDurationWithDefault(EnvCacheTTL, config.DefaultCacheTTL)
	config.TokenSecret = GetEnvWithDefault(EnvTokenSecret, config.TokenSecret)
	config.TokenLifetime = GetEnvDurationWithDefault(EnvTokenLifetime, config.TokenLifetime)

	config.Audit.Enabled = GetEnvBoolWithDefault(EnvAuditEnabled, config.Audit.Enabled)
	config.Audit.OutputFile = GetEnvWithDefault(EnvAuditOutputFile, config.Audit.OutputFile)
	if v := os.Getenv(EnvAuditMinLevel); v != "" {
		if config.Audit.MinLevel, err = parseAuditLevel(v); err != nil {
			return err
		}
	}
	return nil
}

// applyFlags registers one flag per setting, defaulting to the value the
// lower layers produced, so unset flags leave it untouched.
func applyFlags(config *Config, args []string) error {
	fs := flashflags.New("janus")
	fs.String("mode", config.Mode.String(), "Loader mode: development or production")
	fs.String("handler-dir", config.HandlerDir, "Handler manifest directory")
	fs.String("handler-pattern", config.HandlerPattern, "Manifest glob relative to the handler directory")
	fs.String("namespace", config.Namespace, "Identity namespace prefix")
	fs.String("registry", config.RegistryPath, "Compiled registry document path")
	fs.String("format", config.DocumentFormat, "Registry document format: json or yaml")
	fs.StringSlice("critical", config.CriticalFiles, "Critical files checked in development mode")
	fs.Bool("strict-handles", config.StrictHandles, "Reject duplicate handles")
	fs.String("unknown-guards", unknownPolicyName(config.UnknownGuards), "Unknown guard policy: warn, ignore or reject")
	fs.String("cache-store", config.CacheStore, "Durable cache location")
	fs.Duration("cache-ttl", config.DefaultCacheTTL, "Default response cache TTL")
	fs.String("token-secret", config.TokenSecret, "Token signing secret")
	fs.Duration("token-lifetime", config.TokenLifetime, "Token lifetime")
	fs.Bool("audit", config.Audit.Enabled, "Enable the audit trail")
	fs.String("audit-output", config.Audit.OutputFile, "Audit output (.jsonl or SQLite database)")

	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}

	var err error
	if config.Mode, err = ParseMode(fs.GetString("mode")); err != nil {
		return err
	}
	if config.UnknownGuards, err = ParseUnknownGuardPolicy(fs.GetString("unknown-guards")); err != nil {
		return err
	}
	config.HandlerDir = fs.GetString("handler-dir")
	config.HandlerPattern = fs.GetString("handler-pattern")
	config.Namespace = fs.GetString("namespace")
	config.RegistryPath = fs.GetString("registry")
	config.DocumentFormat = fs.GetString("format")
	config.CriticalFiles = fs.GetStringSlice("critical")
	config.StrictHandles = fs.GetBool("strict-handles")
	config.CacheStore = fs.GetString("cache-store")
	config.DefaultCacheTTL = fs.GetDuration("cache-ttl")
	config.TokenSecret = fs.GetString("token-secret")
	config.TokenLifetime = fs.GetDuration("token-lifetime")
	config.Audit.Enabled = fs.GetBool("audit")
	config.Audit.OutputFile = fs.GetString("audit-output")
	return nil
}

func unknownPolicyName(p UnknownGuardPolicy) string {
	switch p {
	case UnknownGuardIgnore:
		return "ignore"
	case UnknownGuardReject:
		return "reject"
	default:
		return "warn"
	}
}

func parseAuditLevel(s string) (AuditLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return AuditInfo, nil
	case "warn", "warning":
		return AuditWarn, nil
	case "critical":
		return AuditCritical, nil
	case "security":
		return AuditSecurity, nil
	default:
		return AuditInfo, errors.New(ErrCodeInvalidConfig, "invalid audit level").WithContext("level", s)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBool accepts true/false, 1/0, yes/no, on/off and enabled/disabled.
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}

// GetEnvWithDefault returns environment variable value or default if not set
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDurationWithDefault returns environment variable as duration or default
func GetEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// GetEnvBoolWithDefault returns environment variable as bool or default
func GetEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value)
	}
	return defaultValue
}
