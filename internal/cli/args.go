// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// args.go - Unified argument parsing for all CLI commands in gptsh.

package cli

import (
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser provides unified argument parsing for CLI commands.
// It handles multiple flag formats consistently:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Positional arguments: arguments without flags
//   - Subcommands: first positional argument
type ArgParser struct {
	subcommand string
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
	raw        []string
}

// valueFlags always take the following argument as their value.
var valueFlags = map[string]bool{
	"role":        true,
	"chat":        true,
	"model":       true,
	"temperature": true,
	"top-p":       true,
	"limit":       true,
	"action":      true,
	"text":        true,
}

// boolOnlyFlags never take a value, so a mode flag cannot swallow the
// first word of the prompt ("gptsh -s list files").
var boolOnlyFlags = map[string]bool{
	"s": true, "shell": true,
	"c": true, "code": true,
	"d": true, "describe-shell": true,
	"no-cache": true, "no-md": true, "no-stream": true,
	"h": true, "help": true,
	"force": true,
}

// NewArgParser creates a new argument parser from raw arguments.
func NewArgParser(raw []string) *ArgParser {
	parser := &ArgParser{
		flags:      make(map[string]string),
		boolFlags:  make(map[string]bool),
		positional: make([]string, 0),
		raw:        raw,
	}

	i := 0
	for i < len(raw) {
		arg := raw[i]

		if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			// --flag=value form
			if strings.Contains(arg, "=") {
				parts := strings.SplitN(arg, "=", 2)
				name := strings.TrimLeft(parts[0], "-")
				value := parts[1]
				if !valueFlags[name] && (value == "true" || value == "false") {
					parser.boolFlags[name] = value == "true"
				} else {
					parser.flags[name] = value
				}
				i++
				continue
			}

			name := strings.TrimLeft(arg, "-")
			takesValue := valueFlags[name]
			if boolOnlyFlags[name] || (i+1 >= len(raw) && !takesValue) {
				parser.boolFlags[name] = true
				i++
				continue
			}
			if i+1 < len(raw) && (takesValue || !strings.HasPrefix(raw[i+1], "-")) {
				parser.flags[name] = raw[i+1]
				i += 2
			} else {
				parser.boolFlags[name] = true
				i++
			}
		} else {
			parser.positional = append(parser.positional, arg)
			i++
		}
	}

	if len(parser.positional) > 0 {
		parser.subcommand = parser.positional[0]
	}
	return parser
}

// Subcommand returns the first positional argument, or "".
func (p *ArgParser) Subcommand() string {
	return p.subcommand
}

// Flag returns the value of a string flag, or "".
func (p *ArgParser) Flag(name string) string {
	name = strings.TrimLeft(name, "-")
	return p.flags[name]
}

// FlagOrDefault returns the flag value or a default if not set.
func (p *ArgParser) FlagOrDefault(name, defaultValue string) string {
	if val := p.Flag(name); val != "" {
		return val
	}
	return defaultValue
}

// FlagIntOrDefault returns the flag value as an integer or a default.
func (p *ArgParser) FlagIntOrDefault(name string, defaultValue int) int {
	val := p.Flag(name)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return n
}

// FlagFloat returns the flag value as a float, or ok=false.
func (p *ArgParser) FlagFloat(name string) (float64, bool) {
	val := p.Flag(name)
	if val == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// BoolFlag returns the value of a boolean flag. Short and long names
// are looked up independently, so callers pass both where needed.
func (p *ArgParser) BoolFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	return p.boolFlags[name]
}

// AnyBool reports whether any of the given boolean flags is set.
func (p *ArgParser) AnyBool(names ...string) bool {
	for _, n := range names {
		if p.BoolFlag(n) {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns all positional arguments starting from index.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return []string{}
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// HasFlag reports whether the flag was given in either form.
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, hasString := p.flags[name]
	_, hasBool := p.boolFlags[name]
	return hasString || hasBool
}

// JoinPositionalFrom joins positional arguments from index into a
// single prompt string.
func (p *ArgParser) JoinPositionalFrom(index int) string {
	return strings.Join(p.PositionalFrom(index), " ")
}
