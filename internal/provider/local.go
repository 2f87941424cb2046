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
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// Configuration constants for the local inference engine.
const (
	// DefaultLocalURL is the base URL of the local inference daemon.
	DefaultLocalURL = "http://localhost:11434"

	// DefaultLocalModel is used when no model is configured.
	DefaultLocalModel = "llama3.2"

	// DefaultInitTimeout bounds the lazy first-use health check.
	DefaultInitTimeout = 10 * time.Second

	// DefaultLocalRequestTimeout bounds a single generate call. Local
	// inference on modest hardware is slow; this is deliberately generous.
	DefaultLocalRequestTimeout = 5 * time.Minute
)

// LocalConfig holds the settings for the local model provider.
type LocalConfig struct {
	BaseURL        string
	Model          string
	InitTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultLocalConfig returns the standard local settings.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		BaseURL:        DefaultLocalURL,
		Model:          DefaultLocalModel,
		InitTimeout:    DefaultInitTimeout,
		RequestTimeout: DefaultLocalRequestTimeout,
	}
}

func (c LocalConfig) normalized() LocalConfig {
	def := DefaultLocalConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	return c
}

// =============================================================================
// LOCAL WIRE TYPES
// =============================================================================

type localChatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// localChatChunk is one NDJSON line of a local chat response. Non-streaming
// responses use the same shape with a single line.
type localChatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// =============================================================================
// LOCAL PROVIDER
// =============================================================================

// Local runs inference through a local model daemon. The model is loaded
// lazily on first use and the handle is cached for the life of the
// provider. All calls are serialized: a single loaded model cannot serve
// concurrent generations.
type Local struct {
	cfg        LocalConfig
	httpClient *http.Client

	// mu serializes every call, including initialization.
	mu          sync.Mutex
	initialized bool
	closed      bool
}

// NewLocal constructs the local provider. No model is loaded and no
// connection is attempted until the first generate call.
func NewLocal(cfg LocalConfig) *Local {
	cfg = cfg.normalized()
	return &Local{
		cfg: cfg,
		httpClient: &http.Client{
			// Streams and long generations are bounded by context, not
			// by a client timeout.
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Name implements Provider.
func (l *Local) Name() string { return "local-model" }

// Generate implements Provider. The first call initializes the engine;
// subsequent calls reuse the cached handle. Both initialization and
// inference failures surface as LocalModelError.
func (l *Local) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	if err := validateContext(turns); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureReadyLocked(ctx); err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(localChatRequest{
		Model:    l.cfg.Model,
		Messages: toWireMessages(turns),
		Stream:   false,
	})
	if err != nil {
		return "", &LocalModelError{Op: "generate", Err: err}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, l.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &LocalModelError{Op: "generate", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &LocalModelError{Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &LocalModelError{
			Op:  "generate",
			Err: fmt.Errorf("engine returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var chunk localChatChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", &LocalModelError{Op: "generate", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return chunk.Message.Content, nil
}

// Stream implements Streamer using the engine's NDJSON line protocol.
// Calls are serialized with Generate; the lock is held until the stream
// goroutine finishes.
func (l *Local) Stream(ctx context.Context, turns []model.Turn) (<-chan Chunk, error) {
	if err := validateContext(turns); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if err := l.ensureReadyLocked(ctx); err != nil {
		l.mu.Unlock()
		return nil, err
	}

	body, err := json.Marshal(localChatRequest{
		Model:    l.cfg.Model,
		Messages: toWireMessages(turns),
		Stream:   true,
	})
	if err != nil {
		l.mu.Unlock()
		return nil, &LocalModelError{Op: "generate", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		l.mu.Unlock()
		return nil, &LocalModelError{Op: "generate", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		l.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &LocalModelError{Op: "generate", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		l.mu.Unlock()
		return nil, &LocalModelError{
			Op:  "generate",
			Err: fmt.Errorf("engine returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	chunks := make(chan Chunk, 64)
	go func() {
		defer l.mu.Unlock()
		defer close(chunks)
		defer resp.Body.Close()
		l.readNDJSON(ctx, resp.Body, chunks)
	}()
	return chunks, nil
}

// readNDJSON decodes one JSON object per line until done, EOF, or failure.
func (l *Local) readNDJSON(ctx context.Context, body io.Reader, chunks chan<- Chunk) {
	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err()}
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF && len(line) == 0 {
			chunks <- Chunk{Final: true}
			return
		}
		if err != nil && err != io.EOF {
			if ctx.Err() != nil {
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
			chunks <- Chunk{Err: &LocalModelError{Op: "generate", Err: fmt.Errorf("stream read: %w", err)}}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var chunk localChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}

		if text := chunk.Message.Content; text != "" {
			select {
			case chunks <- Chunk{Text: text}:
			case <-ctx.Done():
				chunks <- Chunk{Err: ctx.Err()}
				return
			}
		}
		if chunk.Done {
			chunks <- Chunk{Final: true}
			return
		}
	}
}

// ensureReadyLocked performs the lazy first-use initialization: a health
// check against the daemon and a verification that the configured model
// exists. Success is cached; failure leaves the provider uninitialized so
// a later call can try again. Caller holds l.mu.
func (l *Local) ensureReadyLocked(ctx context.Context) error {
	if l.closed {
		return &LocalModelError{Op: "generate", Err: fmt.Errorf("provider is closed")}
	}
	if l.initialized {
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, l.cfg.InitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(initCtx, http.MethodGet, l.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return &LocalModelError{Op: "init", Err: err}
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return &LocalModelError{Op: "init", Err: fmt.Errorf("engine not reachable at %s: %w", l.cfg.BaseURL, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &LocalModelError{Op: "init", Err: fmt.Errorf("engine health check returned HTTP %d", resp.StatusCode)}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return &LocalModelError{Op: "init", Err: fmt.Errorf("failed to parse model list: %w", err)}
	}

	found := false
	for _, m := range tags.Models {
		if m.Name == l.cfg.Model || strings.SplitN(m.Name, ":", 2)[0] == l.cfg.Model {
			found = true
			break
		}
	}
	if !found {
		return &LocalModelError{Op: "init", Err: fmt.Errorf("model %q not available", l.cfg.Model)}
	}

	log.Printf("local-model: initialized, model %s ready", l.cfg.Model)
	l.initialized = true
	return nil
}

// Close implements Closer. The cached engine handle is released; further
// calls fail.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = false
	l.closed = true
	l.httpClient.CloseIdleConnections()
	return nil
}
