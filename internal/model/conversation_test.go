// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("unknown role reported valid")
	}
}

func TestNewMessageHasIDAndTimestamp(t *testing.T) {
	m := NewUserMessage("hello")
	if m.ID == "" {
		t.Error("message has no id")
	}
	if m.Timestamp.IsZero() {
		t.Error("message has no timestamp")
	}
	if m.Role != RoleUser {
		t.Errorf("role = %q", m.Role)
	}
}

func TestMessagePreviewIsRuneSafe(t *testing.T) {
	m := NewUserMessage(strings.Repeat("héllo ", 50))
	p := m.Preview(10)
	if len([]rune(p)) > 13 { // 10 runes plus ellipsis
		t.Errorf("preview too long: %q", p)
	}
}

func TestHasSystemMessageOnlyChecksFirst(t *testing.T) {
	c := NewConversation("x")
	c.Messages = append(c.Messages, NewUserMessage("hi"), NewSystemMessage("late"))
	if c.HasSystemMessage() {
		t.Error("system message not at index 0 should not count")
	}
}

func TestTruncateKeepsSystemMessageAtIndexZero(t *testing.T) {
	c := NewConversation("x")
	c.Messages = append(c.Messages, NewSystemMessage("sys"))
	for i := 0; i < 9; i++ {
		c.Messages = append(c.Messages, NewUserMessage("m"))
	}

	removed := c.Truncate(4)
	if removed != 6 {
		t.Errorf("removed = %d, want 6", removed)
	}
	if len(c.Messages) != 4 {
		t.Errorf("len = %d, want 4", len(c.Messages))
	}
	if c.Messages[0].Role != RoleSystem {
		t.Error("system message lost during truncation")
	}
}

func TestTruncateWithoutSystemMessage(t *testing.T) {
	c := NewConversation("x")
	for i := 0; i < 5; i++ {
		c.Messages = append(c.Messages, NewUserMessage("m"))
	}
	c.Truncate(2)
	if len(c.Messages) != 2 {
		t.Errorf("len = %d, want 2", len(c.Messages))
	}
}

func TestNewConversationGeneratesTempID(t *testing.T) {
	c := NewConversation("")
	if c.ID == "" {
		t.Error("empty id was not replaced")
	}
	if !strings.HasPrefix(c.ID, "tmp_") {
		t.Errorf("generated id = %q", c.ID)
	}
}

func TestLastAssistant(t *testing.T) {
	c := NewConversation("x")
	if c.LastAssistant() != "" {
		t.Error("empty conversation has an assistant message")
	}
	c.Messages = append(c.Messages,
		NewSystemMessage("sys"),
		NewUserMessage("q1"),
		NewAssistantMessage("a1"),
		NewUserMessage("q2"),
		NewAssistantMessage("a2"),
	)
	if got := c.LastAssistant(); got != "a2" {
		t.Errorf("LastAssistant = %q, want a2", got)
	}
}
