// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package safety classifies generated shell commands before execution.
//
// The policy is an ordered list of rules, each a pattern and an action
// (allow, warn or block). Evaluate walks the list and returns the action
// of the FIRST rule whose pattern matches the command; rule order is
// therefore the precedence mechanism, and authors who put a broad allow
// above a narrow block have allowed the narrow case. When no rule
// matches, the configured default applies: warn unless overridden, and
// never silently allow.
//
// Rules load once per process. Editing the rules file mid-session has
// no effect until the next start.
package safety

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/gptsh/internal/util"
)

// =============================================================================
// ACTIONS
// =============================================================================

// Action is the safety verdict for a command: allow it to run, warn and
// require confirmation, or block it outright.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionWarn, ActionBlock:
		return true
	}
	return false
}

// ParseAction parses a string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown safety action %q (want allow, warn or block)", s)
	}
	return a, nil
}

// =============================================================================
// RULES
// =============================================================================

// Rule pairs a pattern with the action taken when it matches.
type Rule struct {
	Pattern string `toml:"pattern"`
	Action  Action `toml:"action"`
}

// RuleFile is the on-disk shape of the safety policy.
type RuleFile struct {
	DefaultAction Action `toml:"default_action"`
	Rules         []Rule `toml:"rule"`
}

// ErrNoRules is returned when a rules file parses but contains nothing.
var ErrNoRules = errors.New("safety rules file contains no rules")

// ErrBlocked is returned when a command is refused by a block rule.
// Callers map it to its own exit code so scripts can tell a refusal
// from a completion failure.
var ErrBlocked = errors.New("command blocked by safety rules")

// DefaultRules returns the built-in policy: a small block list for
// obviously destructive commands, the always-approve list for common
// read-only commands, and the always-confirm list for everything that
// mutates state or touches the network.
func DefaultRules() []Rule {
	blocked := []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs*",
		"dd if=* of=/dev/*",
		"> /dev/sda",
	}
	approved := []string{
		"ls", "cd", "echo", "pwd", "cat", "grep",
	}
	confirmed := []string{
		"rm", "sudo", "chmod", "chown", "mv", "mkfs", "dd",
		">", "|", "wget", "curl", "apt", "apt-get",
		"yum", "brew", "pip", "npm", "yarn",
		"shutdown", "reboot", "eval",
	}

	rules := make([]Rule, 0, len(blocked)+len(approved)+len(confirmed))
	for _, p := range blocked {
		rules = append(rules, Rule{Pattern: p, Action: ActionBlock})
	}
	for _, p := range approved {
		rules = append(rules, Rule{Pattern: p, Action: ActionAllow})
	}
	for _, p := range confirmed {
		rules = append(rules, Rule{Pattern: p, Action: ActionWarn})
	}
	return rules
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine evaluates commands against an ordered rule list. Immutable
// after construction.
type Engine struct {
	rules         []Rule
	defaultAction Action
}

// NewEngine builds an engine. An invalid default action falls back to
// warn; the default is never allow unless explicitly configured.
func NewEngine(rules []Rule, defaultAction Action) *Engine {
	if !defaultAction.Valid() {
		defaultAction = ActionWarn
	}
	return &Engine{rules: rules, defaultAction: defaultAction}
}

// Rules returns a copy of the engine's rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// DefaultAction returns the no-match action.
func (e *Engine) DefaultAction() Action {
	return e.defaultAction
}

// Evaluate classifies a command. The first matching rule wins; with no
// match the default action is returned.
func (e *Engine) Evaluate(command string) Action {
	command = strings.TrimSpace(command)
	for _, r := range e.rules {
		if Matches(r.Pattern, command) {
			return r.Action
		}
	}
	return e.defaultAction
}

// Matches reports whether a pattern matches the full command string.
//
// Three pattern forms are supported:
//   - glob patterns (containing * ? or [) match against the whole
//     command via path.Match,
//   - a single bare word matches when it equals any token of the
//     command, so "rm" matches "rm -rf /tmp" and "sudo rm x" but never
//     "firm -rfx",
//   - any other pattern matches as a substring of the full command
//     line.
func Matches(pattern, command string) bool {
	if pattern == "" || command == "" {
		return false
	}

	if strings.ContainsAny(pattern, "*?[") {
		if ok, err := path.Match(pattern, command); err == nil && ok {
			return true
		}
		return false
	}

	if !strings.ContainsAny(pattern, " \t") {
		for _, tok := range splitTokens(command) {
			if tok == pattern {
				return true
			}
		}
		return false
	}
	return strings.Contains(command, pattern)
}

// splitTokens splits a command into tokens, respecting quotes, so that
// extra spaces or tabs cannot dodge a first-word rule.
func splitTokens(command string) []string {
	var tokens []string
	var current strings.Builder
	inSingle := false
	inDouble := false
	escaped := false

	for _, r := range command {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '\'':
			if inDouble {
				current.WriteRune(r)
			} else {
				inSingle = !inSingle
			}
		case '"':
			if inSingle {
				current.WriteRune(r)
			} else {
				inDouble = !inDouble
			}
		case ' ', '\t', '\n':
			if inSingle || inDouble {
				current.WriteRune(r)
			} else if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// =============================================================================
// LOADING AND SAVING
// =============================================================================

// Load reads the rules file and builds an engine. A missing file is
// created with the default policy first, so users always have something
// concrete to edit. defaultAction overrides the file's default when the
// file does not set one.
func Load(rulesPath string, defaultAction Action) (*Engine, error) {
	if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
		rf := &RuleFile{DefaultAction: ActionWarn, Rules: DefaultRules()}
		if err := Save(rulesPath, rf); err != nil {
			// Unwritable config dir: run with the built-in policy.
			return NewEngine(rf.Rules, defaultAction), nil
		}
	}

	rf, err := ReadFile(rulesPath)
	if err != nil {
		return nil, err
	}

	action := rf.DefaultAction
	if !action.Valid() {
		action = defaultAction
	}
	return NewEngine(rf.Rules, action), nil
}

// ReadFile parses a rules file without constructing an engine.
func ReadFile(rulesPath string) (*RuleFile, error) {
	var rf RuleFile
	if _, err := toml.DecodeFile(rulesPath, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse safety rules %s: %w", rulesPath, err)
	}
	for i, r := range rf.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("safety rule %d has an empty pattern", i+1)
		}
		if !r.Action.Valid() {
			return nil, fmt.Errorf("safety rule %d (%q) has unknown action %q", i+1, r.Pattern, r.Action)
		}
	}
	if rf.DefaultAction != "" && !rf.DefaultAction.Valid() {
		return nil, fmt.Errorf("unknown default_action %q", rf.DefaultAction)
	}
	return &rf, nil
}

// Save writes a rules file atomically.
func Save(rulesPath string, rf *RuleFile) error {
	var sb strings.Builder
	sb.WriteString("# gptsh command safety rules.\n")
	sb.WriteString("#\n")
	sb.WriteString("# Rules are evaluated top to bottom and the FIRST match wins:\n")
	sb.WriteString("# order is precedence. A broad allow placed above a narrow block\n")
	sb.WriteString("# disables that block. Commands matching no rule get default_action.\n")

	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(rf); err != nil {
		return err
	}
	return util.AtomicWriteFile(rulesPath, []byte(sb.String()), 0644)
}
