// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// accumulator consumes a server-sent-event stream and collects the
// content fragments. The stream is finite and not restartable; a
// consumer that stops early has no complete response.
type accumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	buf      strings.Builder
	finished bool
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

// consume reads SSE lines until the [DONE] terminator or EOF, invoking
// cb for each non-empty content delta. Context cancellation aborts the
// read and surfaces as ErrCancelled: the partial content stays in the
// buffer but finished remains false, and consume's caller must not
// treat it as a response.
func (a *accumulator) consume(ctx context.Context, r io.Reader, cb StreamCallback) error {
	reader := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.Canceled {
				return ErrCancelled
			}
			return ErrTimeout
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Stream ended without [DONE]; treat a clean EOF after
				// content as completion, an empty stream as malformed.
				if a.buf.Len() == 0 {
					return &ClientError{Type: ErrTypeInvalidResponse, Message: "empty completion stream"}
				}
				a.finished = true
				return nil
			}
			if ctx.Err() == context.Canceled {
				return ErrCancelled
			}
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "stream read failed", Cause: err}
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			a.finished = true
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Skip malformed events rather than aborting the stream.
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				a.buf.WriteString(choice.Delta.Content)
				if cb != nil {
					cb(choice.Delta.Content)
				}
			}
		}
	}
}

// content returns the accumulated text.
func (a *accumulator) content() string {
	return a.buf.String()
}

// done reports whether the stream was consumed to completion.
func (a *accumulator) done() bool {
	return a.finished
}
