// utils_test.go: CLI helper tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"90m": 90 * time.Minute,
		"7d":  7 * 24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
	for _, bad := range []string{"", "d", "3y", "-2d"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Errorf("ParseDuration(%q) should fail", bad)
		}
	}
}

func TestHumanHelpers(t *testing.T) {
	if got := Age(time.Time{}); got != "never" {
		t.Errorf("Age(zero) = %q", got)
	}
	if got := Age(time.Now().Add(-3 * time.Hour)); !strings.Contains(got, "ago") {
		t.Errorf("Age(past) = %q", got)
	}
	if got := Bytes(2048); got != "2.0 KiB" {
		t.Errorf("Bytes(2048) = %q", got)
	}
	if got := Count(1, "controller"); got != "1 controller" {
		t.Errorf("Count(1) = %q", got)
	}
	if got := Count(12345, "entry"); got != "12,345 entries" {
		t.Errorf("Count(12345) = %q", got)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "TYPE", "HANDLE")
	tbl.Row("view", "")
	if err := tbl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "view") || !strings.HasSuffix(lines[1], "-") {
		t.Errorf("unexpected row %q", lines[1])
	}
}
