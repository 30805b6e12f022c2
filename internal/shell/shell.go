// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package shell runs generated commands through the user's login shell.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Result captures one command execution.
type Result struct {
	Command  string
	ExitCode int
	// Output is the combined stdout and stderr when captured; empty
	// when the command ran attached to the terminal.
	Output string
}

// Runner executes shell commands.
type Runner struct {
	// Shell overrides the interpreter (default: $SHELL, then sh).
	Shell string
	// Capture buffers combined output instead of attaching the
	// command to the current terminal.
	Capture bool
}

// NewRunner returns a Runner attached to the current terminal.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes command through the shell and returns its result. A
// non-zero exit is reported in Result, not as an error; err is non-nil
// only when the command could not be started or the context ended.
func (r *Runner) Run(ctx context.Context, command string) (*Result, error) {
	shell, flag := r.interpreter()
	cmd := exec.CommandContext(ctx, shell, flag, command)

	res := &Result{Command: command}

	var runErr error
	if r.Capture {
		out, err := cmd.CombinedOutput()
		res.Output = string(out)
		runErr = err
	} else {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		runErr = cmd.Run()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run command: %w", runErr)
		}
		res.ExitCode = exitErr.ExitCode()
		// CommandContext kills on cancellation; surface that distinctly.
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, nil
}

// Record renders an execution result as conversation text, so the
// assistant sees what actually happened when the user ran a command.
func (res *Result) Record() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Executed command: %s\nExit code: %d", res.Command, res.ExitCode)
	if res.Output != "" {
		b.WriteString("\nOutput:\n")
		b.WriteString(strings.TrimRight(res.Output, "\n"))
	}
	return b.String()
}

func (r *Runner) interpreter() (shell, flag string) {
	if r.Shell != "" {
		return r.Shell, "-c"
	}
	if runtime.GOOS == "windows" {
		return "powershell.exe", "-Command"
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s, "-c"
	}
	return "sh", "-c"
}

