// descriptor.go: Controller and guard descriptors produced by the scanner
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"strconv"
	"time"
)

// ControllerDescriptor is what a scan pass learns about one concrete controller.
type ControllerDescriptor struct {
	Identity      string
	Handle        string
	Type          ControllerType
	Actions       []string
	Mixins        []string
	Guards        map[string][]GuardDescriptor
	SourceFile    string
	SourceModTime time.Time
}

// HasAction reports whether name is one of the declared actions.
func (d *ControllerDescriptor) HasAction(name string) bool {
	for _, a := range d.Actions {
		if a == name {
			return true
		}
	}
	return false
}

// GuardParam is one named guard parameter. Scalar parameters carry a single value.
type GuardParam struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

// GuardDescriptor is a guard rule attached to one (identity, method) pair.
// Params keep their source order.
type GuardDescriptor struct {
	Rule   string       `json:"rule" yaml:"rule"`
	Params []GuardParam `json:"params,omitempty" yaml:"params,omitempty"`
}

// NewGuard builds a descriptor from alternating name/value pairs. A value
// may be a string or a []string.
func NewGuard(rule string, pairs ...any) GuardDescriptor {
	g := GuardDescriptor{Rule: rule}
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case string:
			g.Params = append(g.Params, GuardParam{Name: name, Values: []string{v}})
		case []string:
			g.Params = append(g.Params, GuardParam{Name: name, Values: append([]string(nil), v...)})
		case int:
			g.Params = append(g.Params, GuardParam{Name: name, Values: []string{strconv.Itoa(v)}})
		}
	}
	return g
}

func (g GuardDescriptor) param(name string) (GuardParam, bool) {
	for _, p := range g.Params {
		if p.Name == name {
			return p, true
		}
	}
	return GuardParam{}, false
}

// String returns the first value of a parameter, or "".
func (g GuardDescriptor) String(name string) string {
	p, ok := g.param(name)
	if !ok || len(p.Values) == 0 {
		return ""
	}
	return p.Values[0]
}

// Strings returns every value of a parameter.
func (g GuardDescriptor) Strings(name string) []string {
	p, _ := g.param(name)
	return p.Values
}

// Int returns a parameter parsed as an integer, or def when it is absent or
// not a number.
func (g GuardDescriptor) Int(name string, def int) int {
	s := g.String(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Has reports whether the parameter is present.
func (g GuardDescriptor) Has(name string) bool {
	_, ok := g.param(name)
	return ok
}
