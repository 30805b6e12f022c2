// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat_cmd.go - Interactive sessions and conversation management.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/morganforge/gptsh/internal/dispatch"
	"github.com/morganforge/gptsh/internal/handler"
	"github.com/morganforge/gptsh/internal/roles"
	"github.com/morganforge/gptsh/internal/shell"
	"github.com/morganforge/gptsh/internal/store"
)

// runRepl starts an interactive session over a conversation.
func (a *App) runRepl(parser *ArgParser) int {
	if err := RequiresTTY("run a session"); err != nil {
		return fail(err)
	}

	chatID := parser.Positional(1)
	if chatID == "" {
		chatID = TempChatID
	}
	if chatID == TempChatID {
		if err := a.Store.Delete(TempChatID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fail(err)
		}
	}

	role, err := a.selectRole(parser)
	if err != nil {
		return fail(err)
	}
	opts := a.options(parser)

	console := NewConsole()
	defer console.Close()

	chat := &handler.Chat{
		Client:  a.Client,
		Cache:   a.chatCache(parser),
		Store:   a.Store,
		Role:    role,
		Options: opts,
	}
	describe := &handler.Default{
		Client:  a.Client,
		Cache:   a.requestCache(parser),
		Role:    roles.DescribeShell(),
		Options: opts,
	}

	d := dispatch.New(chat, describe, a.Safety, shell.NewRunner(), a.History, console)
	// Ctrl-C cancels the in-flight turn, not the session.
	d.TurnContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(ctx, os.Interrupt)
	}

	fmt.Println(TitleStyle.Render("gptsh session") + DimStyle.Render(" ("+chatID+")"))
	fmt.Println(DimStyle.Render(`exit() ends the session, """ starts multiline entry, ?? asks a question`))
	if role.Output == roles.OutputCommand {
		fmt.Println(DimStyle.Render("e runs the last command, d describes it"))
	}

	if err := d.Run(context.Background(), chatID); err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			// The dispatcher already reported it with a recovery hint.
			return ExitError
		}
		return fail(err)
	}
	return ExitOK
}

// runChatCmd manages stored conversations.
func (a *App) runChatCmd(parser *ArgParser) int {
	switch parser.Positional(1) {
	case "", "list":
		metas, err := a.Store.List()
		if err != nil {
			return fail(err)
		}
		if len(metas) == 0 {
			fmt.Println(DimStyle.Render("no stored conversations"))
			return ExitOK
		}
		fmt.Print(store.FormatList(metas))
		return ExitOK

	case "show":
		id := parser.Positional(2)
		if id == "" {
			return fail(errors.New("usage: gptsh chat show ID"))
		}
		if !a.Store.Exists(id) {
			return fail(fmt.Errorf("conversation %q does not exist", id))
		}
		conv, err := a.Store.Load(id)
		if err != nil {
			return fail(err)
		}
		for _, msg := range conv.Messages {
			fmt.Println(TitleStyle.Render(msg.Role.DisplayName() + ":"))
			fmt.Println(msg.Content)
			fmt.Println()
		}
		return ExitOK

	case "delete":
		id := parser.Positional(2)
		if id == "" {
			return fail(errors.New("usage: gptsh chat delete ID"))
		}
		if err := a.Store.Delete(id); err != nil {
			return fail(err)
		}
		fmt.Println(SuccessStyle.Render("deleted ") + id)
		return ExitOK

	default:
		return fail(fmt.Errorf("unknown chat subcommand %q (want list, show or delete)", parser.Positional(1)))
	}
}
