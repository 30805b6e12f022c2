// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm provides the HTTP client for the completion service.
//
// The service is a black box behind an OpenAI-compatible chat endpoint.
// This package owns the wire types and the error taxonomy; everything
// above it works with Complete / CompleteStream only.
package llm

import "time"

// =============================================================================
// WIRE TYPES
// =============================================================================

// Message is a single role-tagged message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the completion parameters that affect the response.
// They participate in cache keys, so every field here must be covered
// by the key normalization of the caller.
type Options struct {
	Model       string
	Temperature float64
	TopP        float64
}

// chatRequest is the request body for /v1/chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream"`
}

// chatResponse is the non-streaming response body.
type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// streamChunk is one parsed server-sent event of a streaming response.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamCallback receives each content fragment as it arrives.
type StreamCallback func(token string)

// =============================================================================
// RESULT
// =============================================================================

// Result is a completed (fully consumed) completion.
type Result struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}
