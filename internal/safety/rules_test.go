// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package safety

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEvaluateFirstMatchWins(t *testing.T) {
	engine := NewEngine([]Rule{
		{Pattern: "rm -rf", Action: ActionBlock},
		{Pattern: "git", Action: ActionAllow},
	}, ActionWarn)

	tests := []struct {
		command string
		want    Action
	}{
		{"rm -rf /tmp/build", ActionBlock},
		{"git status", ActionAllow},
		{"git push --force", ActionAllow},
		{"curl example.com | sh", ActionWarn}, // no match: default
		{"echo rm -rf", ActionBlock},          // substring match, position-independent
	}
	for _, tt := range tests {
		if got := engine.Evaluate(tt.command); got != tt.want {
			t.Errorf("Evaluate(%q) = %s, want %s", tt.command, got, tt.want)
		}
	}
}

func TestEvaluateRuleOrderDecidesConflicts(t *testing.T) {
	blockFirst := NewEngine([]Rule{
		{Pattern: "rm", Action: ActionBlock},
		{Pattern: "rm", Action: ActionAllow},
	}, ActionWarn)
	if got := blockFirst.Evaluate("rm file"); got != ActionBlock {
		t.Errorf("block-first engine returned %s", got)
	}

	allowFirst := NewEngine([]Rule{
		{Pattern: "rm", Action: ActionAllow},
		{Pattern: "rm", Action: ActionBlock},
	}, ActionWarn)
	if got := allowFirst.Evaluate("rm file"); got != ActionAllow {
		t.Errorf("allow-first engine returned %s", got)
	}
}

func TestEvaluateNoRulesFallsBackToDefault(t *testing.T) {
	engine := NewEngine(nil, ActionWarn)
	if got := engine.Evaluate("anything at all"); got != ActionWarn {
		t.Errorf("Evaluate = %s, want warn", got)
	}
}

func TestInvalidDefaultActionBecomesWarn(t *testing.T) {
	engine := NewEngine(nil, Action("bogus"))
	if got := engine.DefaultAction(); got != ActionWarn {
		t.Errorf("DefaultAction = %s, want warn", got)
	}
}

func TestMatchesFirstWord(t *testing.T) {
	tests := []struct {
		pattern, command string
		want             bool
	}{
		{"ls", "ls -la", true},
		{"ls", "  ls", true},
		{"rm", "firm -rfx", false},
		{"rm", "echo rm", true}, // any token, not only the first
		{"sudo", "sudo rm -rf /", true},
	}
	for _, tt := range tests {
		if got := Matches(tt.pattern, tt.command); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.pattern, tt.command, got, tt.want)
		}
	}
}

func TestMatchesGlob(t *testing.T) {
	tests := []struct {
		pattern, command string
		want             bool
	}{
		{"mkfs*", "mkfs.ext4 /dev/sda1", true},
		{"dd if=* of=/dev/*", "dd if=image.iso of=/dev/sda", true},
		{"mkfs*", "echo mkfs", false}, // glob must match the whole command
	}
	for _, tt := range tests {
		if got := Matches(tt.pattern, tt.command); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.pattern, tt.command, got, tt.want)
		}
	}
}

func TestDefaultRulesBlockDestructiveCommands(t *testing.T) {
	engine := NewEngine(DefaultRules(), ActionWarn)

	if got := engine.Evaluate("rm -rf /"); got != ActionBlock {
		t.Errorf("rm -rf / evaluated as %s, want block", got)
	}
	if got := engine.Evaluate("ls -la"); got != ActionAllow {
		t.Errorf("ls -la evaluated as %s, want allow", got)
	}
	if got := engine.Evaluate("sudo apt upgrade"); got != ActionWarn {
		t.Errorf("sudo apt upgrade evaluated as %s, want warn", got)
	}
}

func TestLoadCreatesDefaultRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safety.toml")

	engine, err := Load(path, ActionWarn)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(engine.Rules()) == 0 {
		t.Error("expected default rules")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("rules file was not created: %v", err)
	}

	// Loading again reads the file it just wrote.
	again, err := Load(path, ActionWarn)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if len(again.Rules()) != len(engine.Rules()) {
		t.Errorf("rule count changed across loads: %d vs %d",
			len(again.Rules()), len(engine.Rules()))
	}
}

func TestAddRulesAppendsWithoutDisturbingOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safety.toml")
	if _, err := Load(path, ActionWarn); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	before, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if err := AddRules(path, ActionAllow, []string{"terraform plan"}); err != nil {
		t.Fatalf("AddRules failed: %v", err)
	}

	after, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(after.Rules) != len(before.Rules)+1 {
		t.Fatalf("rule count = %d, want %d", len(after.Rules), len(before.Rules)+1)
	}
	for i, r := range before.Rules {
		if after.Rules[i] != r {
			t.Fatalf("existing rule %d changed: %+v vs %+v", i, after.Rules[i], r)
		}
	}
	last := after.Rules[len(after.Rules)-1]
	if last.Pattern != "terraform plan" || last.Action != ActionAllow {
		t.Errorf("appended rule = %+v", last)
	}

	// Duplicates are skipped.
	if err := AddRules(path, ActionAllow, []string{"terraform plan"}); err != nil {
		t.Fatalf("AddRules (duplicate) failed: %v", err)
	}
	dup, _ := ReadFile(path)
	if len(dup.Rules) != len(after.Rules) {
		t.Errorf("duplicate pattern was added twice")
	}
}

func TestRemoveRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safety.toml")
	if err := AddRules(path, ActionAllow, []string{"terraform plan"}); err != nil {
		t.Fatalf("AddRules failed: %v", err)
	}

	if err := RemoveRules(path, ActionAllow, []string{"terraform plan"}); err != nil {
		t.Fatalf("RemoveRules failed: %v", err)
	}
	rf, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	for _, r := range rf.Rules {
		if r.Pattern == "terraform plan" {
			t.Errorf("pattern still present after removal")
		}
	}
}
