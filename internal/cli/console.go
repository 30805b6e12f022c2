// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// console.go - liner-backed terminal surface for interactive sessions.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
)

// Console is the interactive terminal surface backing a REPL session:
// line editing and history via liner, streamed token output, and
// yes/no confirmation prompts. Session answers stream token by token
// and are printed raw; markdown rendering applies to the one-shot
// path only.
type Console struct {
	line *liner.State
}

// NewConsole opens the terminal for interactive input. Close must be
// called to restore the terminal state.
func NewConsole() *Console {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	return &Console{line: l}
}

// Close restores the terminal.
func (c *Console) Close() error {
	return c.line.Close()
}

// ReadLine reads one input line. Ctrl-D ends the session with io.EOF;
// Ctrl-C abandons the current line but keeps the session alive.
func (c *Console) ReadLine(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		if err == liner.ErrPromptAborted {
			return "", nil
		}
		if err == io.EOF {
			fmt.Println()
			return "", io.EOF
		}
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Confirm asks a yes/no question, defaulting to no.
func (c *Console) Confirm(prompt string) (bool, error) {
	answer, err := c.line.Prompt(WarningStyle.Render(prompt) + " [y/N] ")
	if err != nil {
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return false, nil
		}
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// Print writes a complete message on its own line.
func (c *Console) Print(text string) {
	fmt.Println(text)
}

// Stream writes one streamed token without buffering.
func (c *Console) Stream(token string) {
	fmt.Print(token)
}
