// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func sseStream(tokens ...string) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(`data: {"choices":[{"delta":{"content":"` + tok + `"}}]}` + "\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

func TestAccumulatorCollectsTokensInOrder(t *testing.T) {
	a := newAccumulator()

	var streamed []string
	err := a.consume(context.Background(), strings.NewReader(sseStream("Hel", "lo", "!")),
		func(tok string) { streamed = append(streamed, tok) })
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	if !a.done() {
		t.Error("stream not marked done after [DONE]")
	}
	if got := a.content(); got != "Hello!" {
		t.Errorf("content = %q, want Hello!", got)
	}
	if len(streamed) != 3 || streamed[0] != "Hel" {
		t.Errorf("callback tokens = %v", streamed)
	}
}

func TestAccumulatorSkipsMalformedEvents(t *testing.T) {
	stream := "data: {broken json\n\n" +
		`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	a := newAccumulator()
	if err := a.consume(context.Background(), strings.NewReader(stream), nil); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if got := a.content(); got != "ok" {
		t.Errorf("content = %q, want ok", got)
	}
}

func TestAccumulatorEmptyStreamIsMalformed(t *testing.T) {
	a := newAccumulator()
	err := a.consume(context.Background(), strings.NewReader(""), nil)

	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrTypeInvalidResponse {
		t.Fatalf("expected invalid-response error, got %v", err)
	}
	if a.done() {
		t.Error("empty stream marked done")
	}
}

func TestAccumulatorCleanEOFAfterContentCompletes(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"content":"partial but complete"}}]}` + "\n"

	a := newAccumulator()
	if err := a.consume(context.Background(), strings.NewReader(stream), nil); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !a.done() {
		t.Error("clean EOF after content not treated as completion")
	}
}

// blockingReader yields one event, then blocks until its context dies.
type blockingReader struct {
	ctx  context.Context
	once bool
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if !r.once {
		r.once = true
		event := `data: {"choices":[{"delta":{"content":"part"}}]}` + "\n"
		return copy(p, event), nil
	}
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestCancelledStreamIsNeverAResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &blockingReader{ctx: ctx}

	a := newAccumulator()
	done := make(chan error, 1)
	go func() {
		done <- a.consume(ctx, io.Reader(reader), nil)
	}()
	cancel()
	err := <-done

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if a.done() {
		t.Error("cancelled stream reported as complete")
	}
}
