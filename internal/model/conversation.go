// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a named, ordered, append-only sequence of role-tagged
// messages. A non-empty conversation always starts with a system message;
// that invariant is enforced by the store, not here.
type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// NewConversation creates an empty conversation with the given id.
// An empty id gets a generated ephemeral one (never persisted by callers
// that use it for one-shot requests).
func NewConversation(id string) *Conversation {
	if id == "" {
		id = "tmp_" + uuid.NewString()
	}
	return &Conversation{ID: id}
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// IsEmpty returns true if the conversation has no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// HasSystemMessage reports whether the first message is a system message.
// A conversation with messages but no leading system message has no
// determinable role and must be treated as corrupt by callers.
func (c *Conversation) HasSystemMessage() bool {
	return len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem
}

// SystemMessageCount returns the number of system messages present.
func (c *Conversation) SystemMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleSystem {
			n++
		}
	}
	return n
}

// LastAssistant returns the content of the most recent assistant message,
// or an empty string if there is none.
func (c *Conversation) LastAssistant() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Truncate drops the oldest non-system messages until at most max
// messages remain. The leading system message is never dropped.
// Returns the number of messages removed.
func (c *Conversation) Truncate(max int) int {
	if max <= 0 || len(c.Messages) <= max {
		return 0
	}

	keepSystem := c.HasSystemMessage()
	excess := len(c.Messages) - max

	if keepSystem {
		// Drop from index 1 so the system message stays at index 0.
		if excess > len(c.Messages)-1 {
			excess = len(c.Messages) - 1
		}
		c.Messages = append(c.Messages[:1], c.Messages[1+excess:]...)
	} else {
		c.Messages = c.Messages[excess:]
	}
	return excess
}

// Preview returns a short preview from the first user message.
func (c *Conversation) Preview(maxLen int) string {
	for _, m := range c.Messages {
		if m.Role == RoleUser && m.Content != "" {
			return m.Preview(maxLen)
		}
	}
	return ""
}

// EstimateTokens returns a rough token estimate for the whole history.
func (c *Conversation) EstimateTokens() int {
	total := 0
	for _, m := range c.Messages {
		total += m.EstimateTokens()
	}
	return total
}
