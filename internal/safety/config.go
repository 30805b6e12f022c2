// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package safety

import (
	"fmt"
	"os"
	"strings"
)

// =============================================================================
// RULES FILE EDITING
// =============================================================================

// The safety-config command edits the persisted rules file. A running
// session keeps the engine it loaded at start; edits apply to the next
// process.

// AddRules appends rules for the given patterns, skipping patterns that
// already have a rule with the same action. New rules go to the END of
// the list, so existing rules keep precedence over them.
func AddRules(rulesPath string, action Action, patterns []string) error {
	if !action.Valid() {
		return fmt.Errorf("unknown safety action %q", action)
	}

	rf, err := readOrDefault(rulesPath)
	if err != nil {
		return err
	}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if hasRule(rf.Rules, p, action) {
			continue
		}
		rf.Rules = append(rf.Rules, Rule{Pattern: p, Action: action})
	}
	return Save(rulesPath, rf)
}

// RemoveRules deletes every rule whose pattern is in patterns and whose
// action matches. Remaining rules keep their relative order.
func RemoveRules(rulesPath string, action Action, patterns []string) error {
	rf, err := readOrDefault(rulesPath)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		drop[strings.TrimSpace(p)] = true
	}

	kept := rf.Rules[:0]
	for _, r := range rf.Rules {
		if r.Action == action && drop[r.Pattern] {
			continue
		}
		kept = append(kept, r)
	}
	rf.Rules = kept
	return Save(rulesPath, rf)
}

// FormatRules renders the policy for display, in evaluation order.
func FormatRules(rf *RuleFile) string {
	var sb strings.Builder
	sb.WriteString("Command safety rules (first match wins):\n\n")
	for i, r := range rf.Rules {
		sb.WriteString(fmt.Sprintf("  %3d. %-6s %s\n", i+1, r.Action, r.Pattern))
	}
	def := rf.DefaultAction
	if !def.Valid() {
		def = ActionWarn
	}
	sb.WriteString(fmt.Sprintf("\nDefault action (no match): %s\n", def))
	return sb.String()
}

// readOrDefault loads the rules file, seeding it with the default
// policy when absent.
func readOrDefault(rulesPath string) (*RuleFile, error) {
	rf, err := ReadFile(rulesPath)
	if err == nil {
		return rf, nil
	}
	if _, statErr := os.Stat(rulesPath); statErr != nil {
		return &RuleFile{DefaultAction: ActionWarn, Rules: DefaultRules()}, nil
	}
	return nil, err
}

func hasRule(rules []Rule, pattern string, action Action) bool {
	for _, r := range rules {
		if r.Pattern == pattern && r.Action == action {
			return true
		}
	}
	return false
}
