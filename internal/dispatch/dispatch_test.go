// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morganforge/gptsh/internal/handler"
	"github.com/morganforge/gptsh/internal/llm"
	"github.com/morganforge/gptsh/internal/roles"
	"github.com/morganforge/gptsh/internal/safety"
	"github.com/morganforge/gptsh/internal/shell"
	"github.com/morganforge/gptsh/internal/store"
)

// scriptConsole feeds scripted input lines and records output.
type scriptConsole struct {
	lines    []string
	confirms []bool
	printed  []string
	streamed strings.Builder
	asked    []string
}

func (c *scriptConsole) ReadLine(prompt string) (string, error) {
	if len(c.lines) == 0 {
		return "", io.EOF
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

func (c *scriptConsole) Confirm(prompt string) (bool, error) {
	c.asked = append(c.asked, prompt)
	if len(c.confirms) == 0 {
		return false, nil
	}
	ok := c.confirms[0]
	c.confirms = c.confirms[1:]
	return ok, nil
}

func (c *scriptConsole) Print(text string)   { c.printed = append(c.printed, text) }
func (c *scriptConsole) Stream(token string) { c.streamed.WriteString(token) }

// fakeClient returns a fixed response and records requests.
type fakeClient struct {
	calls    int
	response string
	last     []llm.Message
}

func (f *fakeClient) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
	f.calls++
	f.last = messages
	return &llm.Result{Content: f.response}, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, messages []llm.Message, opts llm.Options, cb llm.StreamCallback) (*llm.Result, error) {
	f.calls++
	f.last = messages
	if cb != nil {
		cb(f.response)
	}
	return &llm.Result{Content: f.response}, nil
}

func newDispatcher(t *testing.T, client llm.Client, role roles.Role, rules []safety.Rule, console *scriptConsole) *Dispatcher {
	t.Helper()
	st, err := store.NewWithDir(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	chat := &handler.Chat{Client: client, Store: st, Role: role}
	describe := &handler.Default{Client: client, Role: roles.DescribeShell()}
	engine := safety.NewEngine(rules, safety.ActionWarn)
	runner := &shell.Runner{Shell: "/bin/sh", Capture: true}
	return New(chat, describe, engine, runner, nil, console)
}

func TestRunTerminatesOnExitKeyword(t *testing.T) {
	client := &fakeClient{response: "hi"}
	console := &scriptConsole{lines: []string{"exit()"}}
	d := newDispatcher(t, client, roles.Default(), nil, console)

	if err := d.Run(context.Background(), "work"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if d.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", d.State())
	}
	if client.calls != 0 {
		t.Errorf("exit() reached the model (%d calls)", client.calls)
	}
}

func TestRunTerminatesOnEOF(t *testing.T) {
	client := &fakeClient{response: "hi"}
	console := &scriptConsole{}
	d := newDispatcher(t, client, roles.Default(), nil, console)

	if err := d.Run(context.Background(), "work"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if d.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", d.State())
	}
}

func TestQuestionSuffixRoutesToDefaultPersona(t *testing.T) {
	client := &fakeClient{response: "an inode is..."}
	console := &scriptConsole{}
	d := newDispatcher(t, client, roles.Shell(), nil, console)

	if err := d.Dispatch(context.Background(), "work", "what is an inode??"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if client.calls != 1 {
		t.Fatalf("client calls = %d, want 1", client.calls)
	}
	if client.last[0].Content != roles.Default().Text {
		t.Errorf("question answered with persona %q, want default", client.last[0].Content)
	}
	// The suffix is stripped from the question.
	userMsg := client.last[len(client.last)-1]
	if userMsg.Content != "what is an inode" {
		t.Errorf("question content = %q", userMsg.Content)
	}
}

func TestLoneQuestionSuffixIsRejected(t *testing.T) {
	client := &fakeClient{response: "?"}
	console := &scriptConsole{}
	d := newDispatcher(t, client, roles.Default(), nil, console)

	if err := d.Dispatch(context.Background(), "work", "??"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("a lone ?? reached the model")
	}
	if len(console.printed) == 0 || !strings.Contains(console.printed[0], "nothing to ask") {
		t.Errorf("no rejection message printed: %v", console.printed)
	}
}

func TestBlockedCommandIsRefused(t *testing.T) {
	client := &fakeClient{response: "rm -rf /"}
	console := &scriptConsole{}
	rules := []safety.Rule{{Pattern: "rm -rf", Action: safety.ActionBlock}}
	d := newDispatcher(t, client, roles.Shell(), rules, console)

	err := d.Dispatch(context.Background(), "work", "delete everything")
	if !errors.Is(err, safety.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if len(console.asked) != 0 {
		t.Errorf("blocked command still asked for confirmation")
	}

	// The session conversation has no execution record.
	conv, loadErr := d.Chat.Store.Load("work")
	if loadErr != nil {
		t.Fatalf("Load failed: %v", loadErr)
	}
	for _, m := range conv.Messages {
		if strings.Contains(m.Content, "Executed command") {
			t.Errorf("blocked command was executed")
		}
	}
}

func TestWarnedCommandNeedsConfirmation(t *testing.T) {
	client := &fakeClient{response: "true"}
	console := &scriptConsole{confirms: []bool{false}}
	d := newDispatcher(t, client, roles.Shell(), nil, console)

	if err := d.Dispatch(context.Background(), "work", "do nothing"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(console.asked) != 1 {
		t.Fatalf("expected one confirmation prompt, got %d", len(console.asked))
	}

	conv, err := d.Chat.Store.Load("work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, m := range conv.Messages {
		if strings.Contains(m.Content, "Executed command") {
			t.Errorf("declined command was executed")
		}
	}
}

func TestAllowedCommandExecutesAndRecords(t *testing.T) {
	client := &fakeClient{response: "echo hello"}
	console := &scriptConsole{}
	rules := []safety.Rule{{Pattern: "echo", Action: safety.ActionAllow}}
	d := newDispatcher(t, client, roles.Shell(), rules, console)

	if err := d.Dispatch(context.Background(), "work", "greet me"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(console.asked) != 0 {
		t.Errorf("allowed command asked for confirmation")
	}

	conv, err := d.Chat.Store.Load("work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	record := ""
	for _, m := range conv.Messages {
		if strings.Contains(m.Content, "Executed command") {
			record = m.Content
		}
	}
	if record == "" {
		t.Fatal("no execution record in conversation")
	}
	if !strings.Contains(record, "echo hello") || !strings.Contains(record, "Exit code: 0") {
		t.Errorf("execution record = %q", record)
	}
	if !strings.Contains(record, "hello") {
		t.Errorf("execution record misses command output: %q", record)
	}
}

func TestExecuteShortcutRunsLastCommand(t *testing.T) {
	client := &fakeClient{response: "echo again"}
	// The warn verdict applies on every execution attempt, so the
	// shortcut asks again after the first decline.
	console := &scriptConsole{confirms: []bool{false, true}}
	d := newDispatcher(t, client, roles.Shell(), nil, console)

	// First turn generates the command but the user declines.
	if err := d.Dispatch(context.Background(), "work", "say again"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	// `e` runs it without another completion.
	if err := d.Dispatch(context.Background(), "work", "e"); err != nil {
		t.Fatalf("shortcut failed: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("client calls = %d, want 1", client.calls)
	}
	if len(console.asked) != 2 {
		t.Errorf("confirmations = %d, want 2 (one per execution attempt)", len(console.asked))
	}

	conv, err := d.Chat.Store.Load("work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	found := false
	for _, m := range conv.Messages {
		if strings.Contains(m.Content, "Executed command: echo again") {
			found = true
		}
	}
	if !found {
		t.Error("shortcut did not execute the last command")
	}
}

func TestExecuteShortcutKeepsBlockedCommandBlocked(t *testing.T) {
	client := &fakeClient{response: "echo forbidden"}
	console := &scriptConsole{}
	rules := []safety.Rule{{Pattern: "echo", Action: safety.ActionBlock}}
	d := newDispatcher(t, client, roles.Shell(), rules, console)

	if err := d.Dispatch(context.Background(), "work", "print it"); !errors.Is(err, safety.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	// `e` must refuse the same command, not run it around the gate.
	if err := d.Dispatch(context.Background(), "work", "e"); !errors.Is(err, safety.ErrBlocked) {
		t.Fatalf("shortcut expected ErrBlocked, got %v", err)
	}
	if len(console.asked) != 0 {
		t.Errorf("blocked command asked for confirmation")
	}

	conv, err := d.Chat.Store.Load("work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, m := range conv.Messages {
		if strings.Contains(m.Content, "Executed command") {
			t.Fatalf("blocked command was executed: %q", m.Content)
		}
	}
}

func TestCorruptConversationTerminatesSession(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewWithDir(dir, 0)
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "work.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{response: "hi"}
	console := &scriptConsole{lines: []string{"hello", "never read"}}
	chat := &handler.Chat{Client: client, Store: st, Role: roles.Default()}
	describe := &handler.Default{Client: client, Role: roles.DescribeShell()}
	d := New(chat, describe, safety.NewEngine(nil, safety.ActionWarn),
		&shell.Runner{Shell: "/bin/sh", Capture: true}, nil, console)

	err = d.Run(context.Background(), "work")
	if !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if d.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", d.State())
	}
	// The loop stops after the corrupt turn instead of re-prompting
	// into the same failure.
	if len(console.lines) != 1 {
		t.Errorf("loop kept reading after corruption (%d lines left)", len(console.lines))
	}
	if client.calls != 0 {
		t.Errorf("corrupt conversation reached the model (%d calls)", client.calls)
	}
}

func TestDescribeShortcutUsesDescribePersona(t *testing.T) {
	client := &fakeClient{response: "ls -la"}
	console := &scriptConsole{confirms: []bool{false}}
	d := newDispatcher(t, client, roles.Shell(), nil, console)

	if err := d.Dispatch(context.Background(), "work", "list files"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := d.Dispatch(context.Background(), "work", "d"); err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("client calls = %d, want 2", client.calls)
	}
	if client.last[0].Content != roles.DescribeShell().Text {
		t.Errorf("describe used persona %q", client.last[0].Content)
	}
}

func TestMultilineInputIsConcatenated(t *testing.T) {
	client := &fakeClient{response: "ok"}
	console := &scriptConsole{lines: []string{
		`"""`,
		"first line",
		"second line",
		`"""`,
		"exit()",
	}}
	d := newDispatcher(t, client, roles.Default(), nil, console)

	if err := d.Run(context.Background(), "work"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("client calls = %d, want 1", client.calls)
	}
	prompt := client.last[len(client.last)-1].Content
	if !strings.Contains(prompt, "first line\nsecond line") {
		t.Errorf("multiline prompt = %q", prompt)
	}
}

func TestSequentialTurnsShareTheConversation(t *testing.T) {
	client := &fakeClient{response: "reply"}
	console := &scriptConsole{lines: []string{"one", "two", "exit()"}}
	d := newDispatcher(t, client, roles.Default(), nil, console)

	if err := d.Run(context.Background(), "work"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	conv, err := d.Chat.Store.Load("work")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// system + 2 * (user, assistant)
	if len(conv.Messages) != 5 {
		t.Errorf("conversation has %d messages, want 5", len(conv.Messages))
	}
}
