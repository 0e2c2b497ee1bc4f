// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Command dumppe decodes a PE file and prints its structure.
package main

import (
	"os"

	"github.com/dblohm7/pestruct/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCommand().Execute(); err != nil {
		logging.Default().Error("command failed", logging.FieldError, err)
		return 1
	}
	return 0
}
