// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// gptsh - AI assistant for the command line.
//
// One-shot answers, generated shell commands behind a safety gate,
// persistent conversations, and an interactive session mode.
package main

import (
	"os"

	"github.com/morganforge/gptsh/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
