// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// safety_cmd.go - Inspect and edit the command safety rules.
//
// Edits rewrite the rules file; the running session keeps the rules it
// loaded at start.

package cli

import (
	"errors"
	"fmt"

	"github.com/morganforge/gptsh/internal/safety"
)

// runSafetyCmd manages the safety rule file.
func (a *App) runSafetyCmd(parser *ArgParser) int {
	rulesPath, err := a.Config.SafetyRulesPath()
	if err != nil {
		return fail(err)
	}

	switch parser.Positional(1) {
	case "", "show":
		rf, err := safety.ReadFile(rulesPath)
		if err != nil {
			// No file yet: show the effective built-in policy.
			rf = &safety.RuleFile{
				DefaultAction: a.Safety.DefaultAction(),
				Rules:         a.Safety.Rules(),
			}
		}
		fmt.Print(safety.FormatRules(rf))
		fmt.Println(DimStyle.Render("rules file: " + rulesPath))
		return ExitOK

	case "add":
		action, err := safety.ParseAction(parser.FlagOrDefault("action", string(safety.ActionAllow)))
		if err != nil {
			return fail(err)
		}
		patterns := parser.PositionalFrom(2)
		if len(patterns) == 0 {
			return fail(errors.New("usage: gptsh safety add --action allow|warn|block PATTERN..."))
		}
		if err := safety.AddRules(rulesPath, action, patterns); err != nil {
			return fail(err)
		}
		fmt.Println(SuccessStyle.Render("added ") + fmt.Sprintf("%d %s rule(s); takes effect on the next run", len(patterns), action))
		return ExitOK

	case "remove":
		action, err := safety.ParseAction(parser.FlagOrDefault("action", string(safety.ActionAllow)))
		if err != nil {
			return fail(err)
		}
		patterns := parser.PositionalFrom(2)
		if len(patterns) == 0 {
			return fail(errors.New("usage: gptsh safety remove --action allow|warn|block PATTERN..."))
		}
		if err := safety.RemoveRules(rulesPath, action, patterns); err != nil {
			return fail(err)
		}
		fmt.Println(SuccessStyle.Render("removed ") + fmt.Sprintf("%d pattern(s); takes effect on the next run", len(patterns)))
		return ExitOK

	default:
		return fail(fmt.Errorf("unknown safety subcommand %q (want show, add or remove)", parser.Positional(1)))
	}
}
