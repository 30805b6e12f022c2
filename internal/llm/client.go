// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling. Failures of the
// completion service always surface as one of these kinds; they are
// never flattened into an empty response.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeRateLimited
	ErrTypeInvalidResponse
	ErrTypeCancelled
)

// ClientError represents an error from the completion client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches two ClientErrors by type, so sentinel comparisons work.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning  = &ClientError{Type: ErrTypeNotRunning, Message: "completion service is not reachable"}
	ErrTimeout     = &ClientError{Type: ErrTypeTimeout, Message: "completion request timed out"}
	ErrRateLimited = &ClientError{Type: ErrTypeRateLimited, Message: "completion service rate limit exceeded"}
	ErrCancelled   = &ClientError{Type: ErrTypeCancelled, Message: "completion cancelled"}
)

// =============================================================================
// CLIENT INTERFACE
// =============================================================================

// Client is the completion boundary used by the mode handlers. The
// streaming form reports the fully accumulated content only when the
// stream was consumed to the end; a cancelled stream returns an error
// and must never be treated as a complete response.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Result, error)
	CompleteStream(ctx context.Context, messages []Message, opts Options, cb StreamCallback) (*Result, error)
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL of the OpenAI-compatible service.
	BaseURL string

	// APIKey sent as a bearer token when non-empty.
	APIKey string

	// Timeout for non-streaming requests (default: 60s).
	Timeout time.Duration

	// RequestsPerSecond paces outgoing calls (default: 2/s, burst 4).
	// This is client-side politeness only; a 429 from the service still
	// surfaces as ErrRateLimited.
	RequestsPerSecond float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://127.0.0.1:11434",
		Timeout:           60 * time.Second,
		RequestsPerSecond: 2,
	}
}

// HTTPClient talks to an OpenAI-compatible /v1/chat/completions
// endpoint. Thread-safe for concurrent use.
type HTTPClient struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient creates a client with the given configuration.
func NewHTTPClient(config *Config) *HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 4),
	}
}

// Complete sends a chat request and returns the complete response.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	start := time.Now()

	resp, err := c.post(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "response contains no choices"}
	}

	return &Result{
		Content:          parsed.Choices[0].Message.Content,
		Model:            opts.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}, nil
}

// CompleteStream sends a streaming chat request, invoking cb for each
// content fragment. The returned Result carries the full accumulated
// content; on cancellation no Result is returned.
func (c *HTTPClient) CompleteStream(ctx context.Context, messages []Message, opts Options, cb StreamCallback) (*Result, error) {
	start := time.Now()

	resp, err := c.post(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	acc := newAccumulator()
	if err := acc.consume(ctx, resp.Body, cb); err != nil {
		return nil, err
	}

	return &Result{
		Content:  acc.content(),
		Model:    opts.Model,
		Duration: time.Since(start),
	}, nil
}

// CheckRunning verifies that the service is reachable.
func (c *HTTPClient) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/models", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeNotRunning,
			Message: "unexpected status from completion service: " + resp.Status,
		}
	}
	return nil
}

// post builds, paces and sends the chat request, mapping transport and
// status failures onto the error taxonomy.
func (c *HTTPClient) post(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.mapContextErr(ctx, err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      stream,
	})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	httpClient := c.httpClient
	if stream {
		// Streams run as long as the model generates; only the context
		// bounds them.
		httpClient = &http.Client{}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, c.mapContextErr(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "completion request failed: " + resp.Status + ": " + string(detail),
		}
	}
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// mapContextErr distinguishes cancellation from timeout from transport
// failure.
func (c *HTTPClient) mapContextErr(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.Canceled:
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		return ErrTimeout
	default:
		return &ClientError{Type: ErrTypeNotRunning, Message: "completion service is not reachable", Cause: err}
	}
}
