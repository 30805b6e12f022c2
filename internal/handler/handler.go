// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package handler implements the mode handlers that turn a prompt into
// a completion: one-shot (request-scoped cache, no context), chat
// (persistent conversation, chat-scoped cache keyed on the full
// history), and question (chat mechanics with the default persona
// forced for a single turn).
//
// Handlers never execute anything. They classify their output and leave
// safety gating and execution to the dispatcher.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/morganforge/gptsh/internal/cache"
	"github.com/morganforge/gptsh/internal/llm"
	"github.com/morganforge/gptsh/internal/model"
	"github.com/morganforge/gptsh/internal/roles"
	"github.com/morganforge/gptsh/internal/store"
)

// =============================================================================
// RESPONSE
// =============================================================================

// Response is the outcome of one handled turn.
type Response struct {
	// Content is the complete assistant output.
	Content string
	// Output classifies Content (text, command, code).
	Output roles.OutputKind
	// Cached reports whether Content was served without a client call.
	Cached bool
	// Model is the model that produced Content (empty on cache hits).
	Model string
	// Duration is the wall time of the completion call (zero on hits).
	Duration time.Duration
}

// =============================================================================
// DEFAULT HANDLER
// =============================================================================

// Default is the one-shot handler. Each prompt stands alone: the wire
// request is the persona's system message plus the prompt, and the
// cache key covers exactly that pair and the sampling options.
type Default struct {
	Client  llm.Client
	Cache   *cache.Store // nil disables caching
	Role    roles.Role
	Options llm.Options
}

// Handle produces a completion for a standalone prompt. cb, when
// non-nil, receives output incrementally; cache hits deliver the whole
// content through cb in one call.
func (h *Default) Handle(ctx context.Context, prompt string, cb llm.StreamCallback) (*Response, error) {
	messages := []llm.Message{
		{Role: model.RoleSystem.String(), Content: h.Role.Text},
		{Role: model.RoleUser.String(), Content: prompt},
	}
	key := requestKey(h.Role, prompt, h.Options)

	resp, err := complete(ctx, h.Client, h.Cache, key, messages, h.Options, cb)
	if err != nil {
		return nil, err
	}
	resp.Output = h.Role.Output
	return resp, nil
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// Chat is the conversational handler. Every turn is appended to a named
// conversation, and the cache key covers the full ordered history so a
// prompt repeated after new turns is a different request.
type Chat struct {
	Client  llm.Client
	Cache   *cache.Store // nil disables caching
	Store   *store.ContextStore
	Role    roles.Role
	Options llm.Options
}

// Handle sends a prompt within the conversation chatID. The user
// message is appended before the call; the assistant message is
// appended only for completed (or cache-served) responses.
func (h *Chat) Handle(ctx context.Context, chatID, prompt string, cb llm.StreamCallback) (*Response, error) {
	resp, err := h.turn(ctx, chatID, prompt, h.Role, cb)
	if err != nil {
		return nil, err
	}
	resp.Output = h.Role.Output
	return resp, nil
}

// Question answers a single question inside the conversation chatID
// using the default persona, whatever persona the conversation is
// rooted in. The question and its answer become part of the history;
// the answer is always plain text.
func (h *Chat) Question(ctx context.Context, chatID, question string, cb llm.StreamCallback) (*Response, error) {
	resp, err := h.turn(ctx, chatID, question, roles.Default(), cb)
	if err != nil {
		return nil, err
	}
	resp.Output = roles.OutputText
	return resp, nil
}

// turn runs one conversational exchange with persona turnRole supplying
// the system text for the wire request. The stored conversation keeps
// its original system message; only the outgoing request is rewritten.
// Nothing is persisted for a failed or cancelled turn: both halves of
// the exchange are appended only after the completion finishes, so a
// retried prompt never piles up dangling user messages.
func (h *Chat) turn(ctx context.Context, chatID, prompt string, turnRole roles.Role, cb llm.StreamCallback) (*Response, error) {
	if err := h.Store.EnsureSystemRole(chatID, h.Role.Text); err != nil {
		return nil, err
	}

	conv, err := h.Store.Load(chatID)
	if err != nil {
		return nil, err
	}

	messages := wireMessages(conv, turnRole.Text)
	messages = append(messages, llm.Message{Role: model.RoleUser.String(), Content: prompt})
	key := chatKey(messages, h.Options)

	resp, err := complete(ctx, h.Client, h.Cache, key, messages, h.Options, cb)
	if err != nil {
		return nil, err
	}

	if err := h.Store.Append(chatID, model.NewUserMessage(prompt)); err != nil {
		return nil, err
	}
	if err := h.Store.Append(chatID, model.NewAssistantMessage(resp.Content)); err != nil {
		return nil, err
	}
	return resp, nil
}

// wireMessages converts a conversation into the request payload,
// substituting systemText for the stored system message.
func wireMessages(conv *model.Conversation, systemText string) []llm.Message {
	msgs := make([]llm.Message, 0, len(conv.Messages))
	for i, m := range conv.Messages {
		content := m.Content
		if i == 0 && m.Role == model.RoleSystem {
			content = systemText
		}
		msgs = append(msgs, llm.Message{Role: m.Role.String(), Content: content})
	}
	return msgs
}

// =============================================================================
// SHARED COMPLETION PATH
// =============================================================================

// complete serves a request from the cache when possible, otherwise
// calls the client and stores the result. Failed or cancelled calls are
// never cached.
func complete(ctx context.Context, client llm.Client, c *cache.Store, key string, messages []llm.Message, opts llm.Options, cb llm.StreamCallback) (*Response, error) {
	if content, ok := c.Get(key); ok {
		if cb != nil {
			cb(content)
		}
		return &Response{Content: content, Cached: true}, nil
	}

	var result *llm.Result
	var err error
	if cb != nil {
		result, err = client.CompleteStream(ctx, messages, opts, cb)
	} else {
		result, err = client.Complete(ctx, messages, opts)
	}
	if err != nil {
		return nil, err
	}

	c.Put(key, result.Content)
	return &Response{
		Content:  result.Content,
		Model:    result.Model,
		Duration: result.Duration,
	}, nil
}

// =============================================================================
// CACHE KEYS
// =============================================================================

// requestKey identifies a standalone request: persona, prompt, and the
// sampling options. Timestamps and ids never participate.
func requestKey(role roles.Role, prompt string, opts llm.Options) string {
	return cache.Key(
		"request",
		role.Name,
		role.Text,
		prompt,
		opts.Model,
		formatFloat(opts.Temperature),
		formatFloat(opts.TopP),
	)
}

// chatKey identifies a conversational request by its full ordered
// history plus the sampling options, so any change to the history
// yields a different key.
func chatKey(messages []llm.Message, opts llm.Options) string {
	fields := make([]string, 0, len(messages)*2+4)
	fields = append(fields, "chat")
	for _, m := range messages {
		fields = append(fields, m.Role, m.Content)
	}
	fields = append(fields,
		opts.Model,
		formatFloat(opts.Temperature),
		formatFloat(opts.TopP),
	)
	return cache.Key(fields...)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
