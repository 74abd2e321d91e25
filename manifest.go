// manifest.go: HCL handler manifest decoding
//
// A handler manifest declares one controller: its handle, base, mixins and
// the actions it exposes together with their guards.
//
//	controller {
//	  handle  = "42"
//	  mixins  = ["janus.admin"]
//	  action "view" {
//	    guard "capability" { require = ["orders.read"] }
//	  }
//	}
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

type manifestFile struct {
	Controller *manifestController `hcl:"controller,block"`
	Remain     hcl.Body            `hcl:",remain"`
}

type manifestController struct {
	Handle           *string           `hcl:"handle,optional"`
	HandleScope      *string           `hcl:"handle_scope,optional"`
	HandleVisibility *string           `hcl:"handle_visibility,optional"`
	Extends          *string           `hcl:"extends,optional"`
	Abstract         *bool             `hcl:"abstract,optional"`
	Mixins           []string          `hcl:"mixins,optional"`
	Actions          []*manifestAction `hcl:"action,block"`
}

type manifestAction struct {
	Name   string           `hcl:"name,label"`
	Static *bool            `hcl:"static,optional"`
	Guards []*manifestGuard `hcl:"guard,block"`
}

type manifestGuard struct {
	Rule string   `hcl:"rule,label"`
	Body hcl.Body `hcl:",remain"`
}

func (c *manifestController) handle() string {
	if c.Handle == nil {
		return ""
	}
	return *c.Handle
}

func (c *manifestController) extends() string {
	if c.Extends == nil || *c.Extends == "" {
		return LifecycleBase
	}
	return *c.Extends
}

func (c *manifestController) abstract() bool {
	return c.Abstract != nil && *c.Abstract
}

func (a *manifestAction) static() bool {
	return a.Static != nil && *a.Static
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// parseManifest decodes the manifest at path. A file without a controller
// block yields a nil controller and no error.
func parseManifest(path string) (*manifestController, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, newRegistrationError("cannot parse handler manifest").
			WithContext("file", path).WithContext("diagnostics", diags.Error())
	}

	var mf manifestFile
	if diags := gohcl.DecodeBody(file.Body, nil, &mf); diags.HasErrors() {
		return nil, newRegistrationError("invalid handler manifest").
			WithContext("file", path).WithContext("diagnostics", diags.Error())
	}
	return mf.Controller, nil
}

// decodeGuard turns a guard block into a descriptor with its attributes in
// source order.
func decodeGuard(g *manifestGuard, path string) (GuardDescriptor, error) {
	desc := GuardDescriptor{Rule: g.Rule}
	attrs, diags := g.Body.JustAttributes()
	if diags.HasErrors() {
		return desc, newRegistrationError("guard parameters must be plain attributes").
			WithContext("file", path).WithContext("rule", g.Rule)
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	for _, attr := range ordered {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return desc, newRegistrationError("guard parameter is not a constant").
				WithContext("file", path).WithContext("param", attr.Name)
		}
		values, ok := ctyStrings(val)
		if !ok {
			return desc, newRegistrationError("guard parameter must be a string, number, bool or list of those").
				WithContext("file", path).WithContext("param", attr.Name)
		}
		desc.Params = append(desc.Params, GuardParam{Name: attr.Name, Values: values})
	}
	return desc, nil
}

// ctyStrings flattens a scalar or a sequence of scalars into strings.
func ctyStrings(v cty.Value) ([]string, bool) {
	if v.IsNull() || !v.IsKnown() {
		return []string{}, true
	}
	ty := v.Type()
	if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
		out := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			s, ok := ctyString(elem)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	s, ok := ctyString(v)
	if !ok {
		return nil, false
	}
	return []string{s}, true
}

func ctyString(v cty.Value) (string, bool) {
	if !v.Type().IsPrimitiveType() || v.IsNull() || !v.IsKnown() {
		return "", false
	}
	sv, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", false
	}
	return sv.AsString(), true
}
