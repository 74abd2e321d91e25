// Package cli holds output and parsing helpers shared by the janus commands
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

var extendedDuration = regexp.MustCompile(`^(\d+)(d|w)$`)

// ParseDuration accepts Go durations plus whole days (d) and weeks (w),
// e.g. "90m", "7d", "2w".
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	m := extendedDuration.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", m[1])
	}
	day := 24 * time.Hour
	if m[2] == "w" {
		return time.Duration(n) * 7 * day, nil
	}
	return time.Duration(n) * day, nil
}

// Age renders t relative to now ("3 minutes ago"); the zero time is "never".
func Age(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// Bytes renders a size in IEC units.
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Count renders n with thousands separators and an English plural.
func Count(n int, noun string) string {
	switch {
	case n == 1:
	case strings.HasSuffix(noun, "y"):
		noun = noun[:len(noun)-1] + "ies"
	default:
		noun += "s"
	}
	return humanize.Comma(int64(n)) + " " + noun
}

// Table writes aligned columns. Call Flush when done.
type Table struct {
	w *tabwriter.Writer
}

// NewTable starts a table on out with the given header.
func NewTable(out io.Writer, header ...string) *Table {
	t := &Table{w: tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)}
	if len(header) > 0 {
		t.Row(header...)
	}
	return t
}

// Row appends one line; empty cells are shown as "-".
func (t *Table) Row(cells ...string) {
	for i, c := range cells {
		if c == "" {
			cells[i] = "-"
		}
	}
	_, _ = fmt.Fprintln(t.w, strings.Join(cells, "\t"))
}

// Flush writes buffered rows.
func (t *Table) Flush() error { return t.w.Flush() }
