// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration inspection and initialization.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/gptsh/internal/config"
)

// runConfigCmd shows or initializes the configuration file.
func (a *App) runConfigCmd(parser *ArgParser) int {
	path, err := config.ConfigPath()
	if err != nil {
		return fail(err)
	}

	switch parser.Positional(1) {
	case "", "show":
		cfg := *a.Config
		if cfg.API.APIKey != "" {
			cfg.API.APIKey = "********"
		}
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return fail(err)
		}
		fmt.Print(sb.String())
		return ExitOK

	case "path":
		fmt.Println(path)
		return ExitOK

	case "init":
		if _, err := os.Stat(path); err == nil && !parser.BoolFlag("force") {
			return fail(fmt.Errorf("%s already exists (use --force to overwrite)", path))
		}
		if err := config.Save(config.Default()); err != nil {
			return fail(err)
		}
		fmt.Println(SuccessStyle.Render("wrote ") + path)
		return ExitOK

	default:
		return fail(fmt.Errorf("unknown config subcommand %q (want show, path or init)", parser.Positional(1)))
	}
}
