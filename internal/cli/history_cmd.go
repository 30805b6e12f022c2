// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history_cmd.go - Browse and search the recorded turn log.

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/morganforge/gptsh/internal/history"
)

// runHistoryCmd lists or searches recorded turns.
func (a *App) runHistoryCmd(parser *ArgParser) int {
	if a.History == nil {
		return fail(errors.New("history log is unavailable"))
	}

	ctx := context.Background()
	limit := parser.FlagIntOrDefault("limit", 20)

	var turns []history.Turn
	var err error
	switch parser.Positional(1) {
	case "":
		turns, err = a.History.List(ctx, limit)
	case "search":
		query := parser.JoinPositionalFrom(2)
		if query == "" {
			return fail(errors.New("usage: gptsh history search QUERY"))
		}
		turns, err = a.History.Search(ctx, query, limit)
	default:
		return fail(fmt.Errorf("unknown history subcommand %q (want search)", parser.Positional(1)))
	}
	if err != nil {
		return fail(err)
	}

	if len(turns) == 0 {
		fmt.Println(DimStyle.Render("no recorded turns"))
		return ExitOK
	}
	for _, t := range turns {
		header := fmt.Sprintf("%s  %s", t.CreatedAt.Format("2006-01-02 15:04"), t.Mode)
		if t.ConversationID != "" {
			header += "  " + t.ConversationID
		}
		if t.Cached {
			header += "  (cached)"
		}
		fmt.Println(DimStyle.Render(header))
		fmt.Println(TitleStyle.Render("> ") + t.Prompt)
		fmt.Println(t.Response)
		fmt.Println()
	}
	return ExitOK
}
