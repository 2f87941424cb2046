// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// SSE WIRE TYPES
// =============================================================================

// wireStreamChunk is one SSE data event from the streaming completions
// endpoint.
type wireStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *wireStreamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

func (c *wireStreamChunk) done() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != ""
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream implements Streamer. It acquires one rate-limit admission, opens
// an SSE connection, and forwards delta chunks as they arrive. A fresh
// channel is returned for every call; it is closed after the final chunk
// or after a single error chunk. Transient connect failures are retried
// with the same backoff policy as Generate, but only before the first
// chunk is emitted: once the stream is open it is not restartable, and a
// mid-stream failure surfaces as a Chunk with Err set, never as a silent
// retry. Rate-limit and validation failures are returned directly; every
// network-phase outcome arrives on the channel.
func (r *Remote) Stream(ctx context.Context, turns []model.Turn) (<-chan Chunk, error) {
	if err := validateContext(turns); err != nil {
		return nil, err
	}
	if !r.IsConfigured() {
		return nil, &ConfigurationError{Reason: "remote-api: API key not set"}
	}
	if r.limiter != nil {
		if err := r.limiter.Acquire(); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(wireRequest{
		Model:    r.cfg.Model,
		Messages: toWireMessages(turns),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	chunks := make(chan Chunk, 64)
	go r.streamWithRetry(ctx, body, chunks)
	return chunks, nil
}

// streamWithRetry opens the SSE connection, retrying transient connect
// failures until the attempt budget is spent. Authentication and request
// errors abort immediately; an exhausted budget emits ProviderUnavailable.
// A successfully opened stream is consumed exactly once and never
// reopened.
func (r *Remote) streamWithRetry(ctx context.Context, body []byte, chunks chan<- Chunk) {
	defer close(chunks)

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			log.Printf("remote-api: stream attempt %d/%d failed, retrying in %s", attempt, r.cfg.MaxRetries, delay)
			select {
			case <-ctx.Done():
				chunks <- Chunk{Err: ctx.Err()}
				return
			case <-time.After(delay):
			}
		}

		resp, err := r.openStream(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
			if !IsRetryable(err) {
				chunks <- Chunk{Err: err}
				return
			}
			lastErr = err
			continue
		}

		r.readSSE(ctx, resp.Body, chunks)
		resp.Body.Close()
		return
	}

	chunks <- Chunk{Err: &ProviderUnavailable{
		Provider: r.Name(),
		Attempts: r.cfg.MaxRetries,
		Err:      lastErr,
	}}
}

// openStream performs one connect attempt against the streaming endpoint.
// The request body is rebuilt per attempt so a retry never reuses a
// consumed reader.
func (r *Remote) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// No client timeout here; the stream lives as long as ctx does.
	resp, err := r.streamClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := readLimited(resp.Body)
		resp.Body.Close()
		return nil, r.classifyStatus(resp.StatusCode, respBody)
	}
	return resp, nil
}

// readSSE parses "data:" events until [DONE], a finish reason, EOF, or a
// failure, emitting exactly one terminal chunk (Final or Err).
func (r *Remote) readSSE(ctx context.Context, body io.Reader, chunks chan<- Chunk) {
	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err()}
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			chunks <- Chunk{Final: true}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
			chunks <- Chunk{Err: &NetworkError{Err: fmt.Errorf("stream read: %w", err)}}
			return
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			chunks <- Chunk{Final: true}
			return
		}

		var wire wireStreamChunk
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			// Skip malformed events rather than aborting the stream.
			continue
		}

		if text := wire.content(); text != "" {
			select {
			case chunks <- Chunk{Text: text}:
			case <-ctx.Done():
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
		}
		if wire.done() {
			chunks <- Chunk{Final: true}
			return
		}
	}
}
