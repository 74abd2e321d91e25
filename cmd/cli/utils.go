// Utility functions for the Janus CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"net/url"
	"sort"
	"strings"

	"github.com/agilira/janus"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// configFrom layers the file, JANUS_* variables and the command flags. The
// flags are handed to the janus flag parser so that precedence and derived
// defaults stay in one place.
func (m *Manager) configFrom(ctx *orpheus.Context) (*janus.Config, error) {
	return m.loadConfig(ctx.GetFlagString("config"), map[string]string{
		"handler-dir": ctx.GetFlagString("handler-dir"),
		"registry":    ctx.GetFlagString("registry"),
		"mode":        ctx.GetFlagString("mode"),
	})
}

func (m *Manager) loadConfig(file string, overrides map[string]string) (*janus.Config, error) {
	cfg, err := janus.LoadConfigMultiSource(file, overrideArgs(overrides))
	if err != nil {
		return nil, err
	}
	cfg.Logger = m.logger
	return cfg, nil
}

// overrideArgs turns non-empty overrides into --name=value flags in a
// stable order.
func overrideArgs(overrides map[string]string) []string {
	names := make([]string, 0, len(overrides))
	for name, v := range overrides {
		if v != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	args := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, "--"+name+"="+overrides[name])
	}
	return args
}

func storeLocation(cfg *janus.Config, override string) string {
	if override != "" {
		return override
	}
	return cfg.CacheStore
}

// describeStore names a store location without its credentials.
func describeStore(location string) string {
	if location == "" {
		return "memory"
	}
	if !strings.Contains(location, "://") {
		return location
	}
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			u.User = url.User(name)
		} else {
			u.User = nil
		}
	}
	return u.String()
}

func guardSummary(d janus.ControllerDescriptor) string {
	var parts []string
	for _, action := range d.Actions {
		guards := d.Guards[action]
		if len(guards) == 0 {
			continue
		}
		rules := make([]string, len(guards))
		for i, g := range guards {
			rules[i] = g.Rule
		}
		parts = append(parts, action+":"+strings.Join(rules, "+"))
	}
	return strings.Join(parts, " ")
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "set (" + strings.Repeat("*", 4) + ")"
}
