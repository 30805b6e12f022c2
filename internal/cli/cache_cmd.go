// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cache_cmd.go - Response cache inspection and clearing.

package cli

import (
	"errors"
	"fmt"
)

// runCacheCmd manages the response caches.
func (a *App) runCacheCmd(parser *ArgParser) int {
	if a.RequestCache == nil && a.ChatCache == nil {
		return fail(errors.New("response caching is disabled"))
	}

	switch parser.Positional(1) {
	case "", "stats":
		fmt.Println(TitleStyle.Render("Response cache"))
		for _, scope := range []struct {
			name  string
			store interface{ Len() int }
		}{
			{"request", a.RequestCache},
			{"chat", a.ChatCache},
		} {
			fmt.Printf("  %-8s %d entries (max %d)\n",
				scope.name, scope.store.Len(), a.Config.Cache.MaxEntries)
		}
		return ExitOK

	case "clear":
		a.RequestCache.Clear()
		a.ChatCache.Clear()
		fmt.Println(SuccessStyle.Render("cache cleared"))
		return ExitOK

	default:
		return fail(fmt.Errorf("unknown cache subcommand %q (want stats or clear)", parser.Positional(1)))
	}
}
