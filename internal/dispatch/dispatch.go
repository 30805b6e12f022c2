// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch owns the interactive session loop.
//
// The dispatcher is a strictly sequential state machine: one input line
// is fully processed (completion, classification, safety gate,
// execution) before the next is read. A `??` suffix routes a single
// line to question handling without changing the active mode; `exit()`
// terminates the session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/morganforge/gptsh/internal/handler"
	"github.com/morganforge/gptsh/internal/history"
	"github.com/morganforge/gptsh/internal/llm"
	"github.com/morganforge/gptsh/internal/model"
	"github.com/morganforge/gptsh/internal/roles"
	"github.com/morganforge/gptsh/internal/safety"
	"github.com/morganforge/gptsh/internal/shell"
	"github.com/morganforge/gptsh/internal/store"
)

// =============================================================================
// STATES
// =============================================================================

// State is the dispatcher's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingInput
	StateDispatching
	StateExecuting
	StateAnswering
	StateTerminated
)

// String returns the state name for logging and tests.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInput:
		return "awaiting-input"
	case StateDispatching:
		return "dispatching"
	case StateExecuting:
		return "executing"
	case StateAnswering:
		return "answering"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Input keywords.
const (
	// ExitKeyword ends the session.
	ExitKeyword = "exit()"
	// QuestionSuffix routes a line to question handling.
	QuestionSuffix = "??"
	// MultilineDelimiter starts and ends multiline entry.
	MultilineDelimiter = `"""`
	// executeShortcut runs the last generated command.
	executeShortcut = "e"
	// describeShortcut explains the last generated command.
	describeShortcut = "d"
)

// =============================================================================
// CONSOLE
// =============================================================================

// Console is the dispatcher's terminal surface. The CLI backs it with a
// real terminal; tests back it with scripted input.
type Console interface {
	// ReadLine reads one input line, shown behind prompt. io.EOF ends
	// the session like ExitKeyword.
	ReadLine(prompt string) (string, error)
	// Confirm asks a yes/no question, defaulting to no.
	Confirm(prompt string) (bool, error)
	// Print writes a finished message (rendered, newline-terminated).
	Print(text string)
	// Stream writes one streamed token.
	Stream(token string)
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher runs an interactive session over chat semantics.
type Dispatcher struct {
	Chat     *handler.Chat
	Describe *handler.Default // describe-shell persona, for `d`
	Safety   *safety.Engine
	Runner   *shell.Runner
	History  *history.Log // optional; recording failures are ignored
	Console  Console

	// TurnContext derives the context for one turn, letting the CLI
	// bind the in-flight turn (and only that turn) to Ctrl-C. Nil
	// means turns share the session context.
	TurnContext func(ctx context.Context) (context.Context, context.CancelFunc)

	state       State
	lastCommand string
}

// New wires a dispatcher. history may be nil.
func New(chat *handler.Chat, describe *handler.Default, engine *safety.Engine, runner *shell.Runner, log *history.Log, console Console) *Dispatcher {
	return &Dispatcher{
		Chat:     chat,
		Describe: describe,
		Safety:   engine,
		Runner:   runner,
		History:  log,
		Console:  console,
		state:    StateIdle,
	}
}

// State reports the current lifecycle state.
func (d *Dispatcher) State() State {
	return d.state
}

// Run processes input lines for the conversation chatID until the user
// enters ExitKeyword, input ends, or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, chatID string) error {
	for {
		if err := ctx.Err(); err != nil {
			d.state = StateTerminated
			return err
		}

		d.state = StateAwaitingInput
		line, err := d.Console.ReadLine(">>> ")
		if err != nil {
			d.state = StateTerminated
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ExitKeyword:
			d.state = StateTerminated
			return nil
		case line == MultilineDelimiter:
			line, err = d.readMultiline()
			if err != nil {
				d.state = StateTerminated
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
		}

		turnCtx, cancel := ctx, context.CancelFunc(func() {})
		if d.TurnContext != nil {
			turnCtx, cancel = d.TurnContext(ctx)
		}
		err = d.Dispatch(turnCtx, chatID, line)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, llm.ErrCancelled):
				// An interrupted turn leaves the session usable.
				d.Console.Print("")
			case errors.Is(err, safety.ErrBlocked):
				// Already reported; the session continues.
			case errors.Is(err, store.ErrCorrupt):
				// Fatal for this conversation: every further turn
				// would fail the same way.
				d.Console.Print(fmt.Sprintf("error: %v", err))
				d.Console.Print(fmt.Sprintf("run `gptsh chat delete %s` to start the conversation over", chatID))
				d.state = StateTerminated
				return err
			default:
				d.Console.Print(fmt.Sprintf("error: %v", err))
			}
		}
	}
}

// Dispatch processes one input line within chatID: classification,
// completion, safety gate and execution.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID, line string) error {
	d.state = StateDispatching
	defer func() { d.state = StateAwaitingInput }()

	// Question sub-mode: answer this line with the default persona,
	// then return to the active mode.
	if question, ok := questionOf(line); ok {
		if question == "" {
			d.Console.Print("nothing to ask: add a question before the ?? suffix")
			return nil
		}
		return d.answer(ctx, chatID, question)
	}

	// Shortcuts on the previously generated command. Execution goes
	// back through the safety gate: the verdict applies every time the
	// command is about to run, not just when it was generated.
	if d.lastCommand != "" {
		switch line {
		case executeShortcut:
			return d.gate(ctx, chatID, d.lastCommand)
		case describeShortcut:
			return d.describe(ctx, d.lastCommand)
		}
	}

	start := time.Now()
	resp, err := d.Chat.Handle(ctx, chatID, line, d.Console.Stream)
	if err != nil {
		return err
	}
	d.Console.Print("")
	d.record(ctx, "repl", chatID, d.Chat.Role.Name, line, resp, start)

	if resp.Output != roles.OutputCommand {
		return nil
	}

	command := strings.TrimSpace(resp.Content)
	d.lastCommand = command
	return d.gate(ctx, chatID, command)
}

// gate applies the safety verdict to a command about to run: block
// refuses unconditionally, warn requires confirmation, allow executes.
func (d *Dispatcher) gate(ctx context.Context, chatID, command string) error {
	switch d.Safety.Evaluate(command) {
	case safety.ActionBlock:
		d.Console.Print(fmt.Sprintf("blocked: %s", command))
		return safety.ErrBlocked
	case safety.ActionWarn:
		ok, err := d.Console.Confirm(fmt.Sprintf("execute %q?", command))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return d.execute(ctx, chatID, command)
}

// answer handles one question sub-mode line.
func (d *Dispatcher) answer(ctx context.Context, chatID, question string) error {
	d.state = StateAnswering
	start := time.Now()
	resp, err := d.Chat.Question(ctx, chatID, question, d.Console.Stream)
	if err != nil {
		return err
	}
	d.Console.Print("")
	d.record(ctx, "question", chatID, roles.NameDefault, question, resp, start)
	return nil
}

// execute runs an approved command and feeds the outcome back into the
// conversation so later turns see what actually happened.
func (d *Dispatcher) execute(ctx context.Context, chatID, command string) error {
	d.state = StateExecuting
	res, err := d.Runner.Run(ctx, command)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		d.Console.Print(fmt.Sprintf("exit code %d", res.ExitCode))
	}
	// Recorded as a user message: the system role is injected exactly
	// once per conversation.
	return d.Chat.Store.Append(chatID, model.NewUserMessage(res.Record()))
}

// describe explains the last generated command as plain text. The
// description is one-shot: it does not join the conversation.
func (d *Dispatcher) describe(ctx context.Context, command string) error {
	d.state = StateAnswering
	_, err := d.Describe.Handle(ctx, command, d.Console.Stream)
	if err != nil {
		return err
	}
	d.Console.Print("")
	return nil
}

// readMultiline collects lines until the closing delimiter.
func (d *Dispatcher) readMultiline() (string, error) {
	var b strings.Builder
	for {
		line, err := d.Console.ReadLine("... ")
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == MultilineDelimiter {
			return b.String(), nil
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

// record logs a completed turn. The log is advisory.
func (d *Dispatcher) record(ctx context.Context, mode, chatID, role, prompt string, resp *handler.Response, start time.Time) {
	if d.History == nil {
		return
	}
	duration := resp.Duration
	if duration == 0 && !resp.Cached {
		duration = time.Since(start)
	}
	_ = d.History.Record(ctx, history.Turn{
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

// questionOf reports whether line carries the question suffix and
// returns the question text with the suffix stripped.
func questionOf(line string) (string, bool) {
	if !strings.HasSuffix(line, QuestionSuffix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimSuffix(line, QuestionSuffix)), true
}
