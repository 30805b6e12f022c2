// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Markdown rendering for plain-text answers.

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Renderer renders assistant text for the terminal. Markdown rendering
// only applies on TTY output; piped output stays verbatim.
type Renderer struct {
	markdown bool
	theme    string
}

// NewRenderer builds a renderer. theme is one of auto, dark, light,
// notty.
func NewRenderer(markdown bool, theme string) *Renderer {
	return &Renderer{markdown: markdown, theme: theme}
}

// Render returns text formatted for display. Rendering failures fall
// back to the raw text.
func (r *Renderer) Render(text string) string {
	if !r.markdown || !IsStdoutTTY() {
		return text
	}

	opts := []glamour.TermRendererOption{
		glamour.WithWordWrap(GetTerminalWidth()),
	}
	switch r.theme {
	case "auto", "":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(r.theme))
	}

	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return text
	}
	out, err := tr.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
