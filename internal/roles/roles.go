// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package roles defines the assistant personas.
//
// A role is the system message that roots every conversation, plus the
// classification its output carries: the shell role produces executable
// commands, everything else produces plain text. Builtin roles are
// generated for the running OS and shell; user roles are JSON files
// under the config directory.
package roles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/morganforge/gptsh/internal/util"
)

// =============================================================================
// OUTPUT KIND
// =============================================================================

// OutputKind classifies what a role's completions are.
type OutputKind string

const (
	// OutputText is a plain answer; it is displayed, never executed.
	OutputText OutputKind = "text"
	// OutputCommand is a shell command; it must pass the safety gate
	// before execution.
	OutputCommand OutputKind = "command"
	// OutputCode is source code; displayed raw, never executed.
	OutputCode OutputKind = "code"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role is an assistant persona.
type Role struct {
	Name   string     `json:"name"`
	Text   string     `json:"text"`
	Output OutputKind `json:"output"`
}

// Builtin role names.
const (
	NameDefault       = "default"
	NameShell         = "shell"
	NameCode          = "code"
	NameDescribeShell = "describe-shell"
)

// =============================================================================
// BUILTIN ROLES
// =============================================================================

// Default returns the general-purpose assistant persona. This is also
// the persona forced for question sub-mode lines, whatever role the
// surrounding session uses.
func Default() Role {
	return Role{
		Name:   NameDefault,
		Output: OutputText,
		Text: "You are a command line assistant managing " + osName() + " with " + shellName() + ".\n" +
			"Provide short responses in about 100 words, unless the request asks for details.\n" +
			"Apply markdown formatting when possible.",
	}
}

// Shell returns the shell-command generator persona.
func Shell() Role {
	return Role{
		Name:   NameShell,
		Output: OutputCommand,
		Text: "Provide only " + shellName() + " commands for " + osName() + " without any description.\n" +
			"If there is a lack of details, provide the most logical solution.\n" +
			"Ensure the output is a valid shell command.\n" +
			"If multiple steps are required, combine them with && or ;.\n" +
			"Provide only plain text without markdown formatting, no backticks.",
	}
}

// Code returns the code generator persona.
func Code() Role {
	return Role{
		Name:   NameCode,
		Output: OutputCode,
		Text: "Provide only code as output, without any description or explanation.\n" +
			"Do not ask for details; provide the most logical solution.\n" +
			"Provide plain code without markdown fences.",
	}
}

// DescribeShell returns the command describer persona.
func DescribeShell() Role {
	return Role{
		Name:   NameDescribeShell,
		Output: OutputText,
		Text: "Provide a terse, single sentence description of the given shell command.\n" +
			"Describe each argument and option of the command.\n" +
			"Provide short responses in about 80 words.\n" +
			"Apply markdown formatting when possible.",
	}
}

// builtins maps role names to their constructors.
var builtins = map[string]func() Role{
	NameDefault:       Default,
	NameShell:         Shell,
	NameCode:          Code,
	NameDescribeShell: DescribeShell,
}

// =============================================================================
// ROLE STORE
// =============================================================================

// Store resolves roles by name, custom roles taking their contents from
// JSON files on disk. Builtin names cannot be shadowed.
type Store struct {
	// Dir holds user-defined role files (<name>.json).
	Dir string
}

// NewStore creates a role store backed by dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Get resolves a role by name: builtins first, then user files.
func (s *Store) Get(name string) (Role, error) {
	if ctor, ok := builtins[name]; ok {
		return ctor(), nil
	}

	data, err := os.ReadFile(s.rolePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Role{}, fmt.Errorf("role %q does not exist", name)
		}
		return Role{}, err
	}

	var r Role
	if err := json.Unmarshal(data, &r); err != nil {
		return Role{}, fmt.Errorf("role file for %q is malformed: %w", name, err)
	}
	if r.Name == "" {
		r.Name = name
	}
	if r.Output == "" {
		r.Output = OutputText
	}
	return r, nil
}

// Create persists a user role. Custom roles always classify as text
// output; only the builtin shell role may produce executable commands.
func (s *Store) Create(name, text string) error {
	if _, ok := builtins[name]; ok {
		return fmt.Errorf("role %q is builtin and cannot be replaced", name)
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("role name and text must be non-empty")
	}

	r := Role{Name: name, Text: text, Output: OutputText}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(s.rolePath(name), data, 0644)
}

// List returns all role names, builtins first, then user roles sorted.
func (s *Store) List() ([]string, error) {
	names := []string{NameDefault, NameShell, NameCode, NameDescribeShell}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, err
	}

	var custom []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		custom = append(custom, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(custom)
	return append(names, custom...), nil
}

func (s *Store) rolePath(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

// =============================================================================
// PLATFORM HELPERS
// =============================================================================

// osName names the running operating system for persona text.
func osName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

// shellName reports the user's shell.
func shellName() string {
	if runtime.GOOS == "windows" {
		return "powershell"
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "sh"
	}
	return filepath.Base(shell)
}
