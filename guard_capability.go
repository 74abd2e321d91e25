// guard_capability.go: Capability guard
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"strings"
)

// RuleCapability is the rule type served by CapabilityGuard.
const RuleCapability = "capability"

// CapabilityGuard requires the principal to hold every capability listed in
// the "require" parameter. A request without a principal is rejected.
type CapabilityGuard struct{}

// Check implements Guard.
func (CapabilityGuard) Check(_ context.Context, gc *GuardContext) Outcome {
	required := gc.Descriptor.Strings("require")
	if gc.Request == nil || gc.Request.Principal == nil {
		return Fail("authentication required")
	}

	var missing []string
	for _, c := range required {
		if !gc.Request.Principal.Can(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Fail("missing capabilities: " + strings.Join(missing, ", "))
	}
	return Proceed()
}
