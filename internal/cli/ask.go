// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot and single-turn chat prompts.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/morganforge/gptsh/internal/handler"
	"github.com/morganforge/gptsh/internal/history"
	"github.com/morganforge/gptsh/internal/llm"
	"github.com/morganforge/gptsh/internal/roles"
	"github.com/morganforge/gptsh/internal/safety"
	"github.com/morganforge/gptsh/internal/shell"
	"github.com/morganforge/gptsh/internal/store"
)

// runAsk handles a prompt outside of a session: one-shot by default, a
// single conversation turn when --chat is given.
func (a *App) runAsk(parser *ArgParser, prompt string) int {
	role, err := a.selectRole(parser)
	if err != nil {
		return fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := a.options(parser)
	renderer := a.renderer(parser)

	// Streaming prints tokens as they arrive; markdown and command
	// output need the whole response before display.
	var cb llm.StreamCallback
	streamed := role.Output == roles.OutputText &&
		!parser.BoolFlag("no-stream") && !(a.Config.UI.Markdown && IsStdoutTTY())
	if streamed {
		cb = func(token string) { fmt.Print(token) }
	}

	start := time.Now()
	var resp *handler.Response
	var mode, chatID string

	if chatID = parser.Flag("chat"); chatID != "" {
		mode = "chat"
		if chatID == TempChatID {
			// The temp conversation starts empty on every use.
			if err := a.Store.Delete(TempChatID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return fail(err)
			}
		}
		h := &handler.Chat{
			Client:  a.Client,
			Cache:   a.chatCache(parser),
			Store:   a.Store,
			Role:    role,
			Options: opts,
		}
		if question, ok := strings.CutSuffix(strings.TrimSpace(prompt), "??"); ok {
			question = strings.TrimSpace(question)
			if question == "" {
				return fail(errors.New("nothing to ask: add a question before the ?? suffix"))
			}
			resp, err = h.Question(ctx, chatID, question, cb)
		} else {
			resp, err = h.Handle(ctx, chatID, prompt, cb)
		}
	} else {
		mode = "default"
		h := &handler.Default{
			Client:  a.Client,
			Cache:   a.requestCache(parser),
			Role:    role,
			Options: opts,
		}
		resp, err = h.Handle(ctx, prompt, cb)
	}
	if err != nil {
		if errors.Is(err, llm.ErrCancelled) || errors.Is(err, context.Canceled) {
			fmt.Println()
			return ExitError
		}
		if errors.Is(err, store.ErrCorrupt) {
			code := fail(err)
			fmt.Fprintln(os.Stderr, DimStyle.Render(
				fmt.Sprintf("run `gptsh chat delete %s` to start the conversation over", chatID)))
			return code
		}
		return fail(err)
	}

	a.recordTurn(mode, chatID, role.Name, prompt, resp, start)

	if resp.Output == roles.OutputCommand {
		return a.handleCommand(ctx, strings.TrimSpace(resp.Content), opts)
	}

	if streamed {
		fmt.Println()
	} else {
		fmt.Println(renderer.Render(resp.Content))
	}
	return ExitOK
}

// handleCommand gates and optionally runs a generated command.
func (a *App) handleCommand(ctx context.Context, command string, opts llm.Options) int {
	fmt.Println(CommandStyle.Render(command))

	switch a.Safety.Evaluate(command) {
	case safety.ActionBlock:
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("blocked:"),
			"command refused by safety rules")
		return ExitBlocked

	case safety.ActionAllow:
		return a.execute(ctx, command)

	default: // warn: interactive approval required
		if !IsTTY() {
			fmt.Fprintln(os.Stderr, DimStyle.Render("not executed: stdin is not a terminal"))
			return ExitOK
		}
		return a.interact(ctx, command, opts)
	}
}

// interact runs the execute/describe/abort loop on a generated command.
func (a *App) interact(ctx context.Context, command string, opts llm.Options) int {
	reader := newStdinReader()
	for {
		fmt.Print(WarningStyle.Render("[E]xecute, [D]escribe, [A]bort:") + " ")
		choice, err := reader()
		if err != nil {
			fmt.Println()
			return ExitOK
		}
		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "e", "y":
			return a.execute(ctx, command)
		case "d":
			h := &handler.Default{
				Client:  a.Client,
				Cache:   a.RequestCache,
				Role:    roles.DescribeShell(),
				Options: opts,
			}
			resp, err := h.Handle(ctx, command, nil)
			if err != nil {
				return fail(err)
			}
			fmt.Println(a.Renderer.Render(resp.Content))
		case "a", "n", "":
			return ExitOK
		}
	}
}

// execute runs a command attached to the terminal.
func (a *App) execute(ctx context.Context, command string) int {
	res, err := shell.NewRunner().Run(ctx, command)
	if err != nil {
		return fail(err)
	}
	if res.ExitCode != 0 {
		return res.ExitCode
	}
	return ExitOK
}

// recordTurn logs a completed turn. The log is advisory.
func (a *App) recordTurn(mode, chatID, role, prompt string, resp *handler.Response, start time.Time) {
	if a.History == nil {
		return
	}
	duration := resp.Duration
	if duration == 0 && !resp.Cached {
		duration = time.Since(start)
	}
	_ = a.History.Record(context.Background(), history.Turn{
		Mode:           mode,
		ConversationID: chatID,
		Role:           role,
		Prompt:         prompt,
		Response:       resp.Content,
		Model:          resp.Model,
		Cached:         resp.Cached,
		Duration:       duration,
	})
}

// newStdinReader returns a line reader over stdin.
func newStdinReader() func() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	return func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
}
