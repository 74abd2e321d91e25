// janus: registry, cache and token tooling
//
// This binary carries an empty catalog, so it inspects compiled documents
// and cache stores. `registry build`, `registry watch` and development mode
// `registry check` refuse to run here; services embed cmd/cli with their
// own catalog for those.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/agilira/janus/cmd/cli"
	_ "github.com/agilira/janus/providers/redis"
)

func main() {
	if err := cli.NewManager(nil).Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
