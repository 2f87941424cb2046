// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/limiter"
	"github.com/jeranaias/parley/internal/model"
)

// Configuration constants for the remote chat API.
const (
	// DefaultRemoteURL is the base URL for the hosted chat completions API.
	DefaultRemoteURL = "https://api.openai.com/v1"

	// DefaultRemoteModel is used when no model is configured.
	DefaultRemoteModel = "gpt-4o-mini"

	// DefaultAttemptTimeout bounds a single HTTP attempt.
	DefaultAttemptTimeout = 60 * time.Second

	// DefaultMaxRetries is the total attempt budget for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps exponential backoff.
	retryMaxDelay = 10 * time.Second

	// maxResponseSize bounds a non-streaming response body.
	maxResponseSize = 10 * 1024 * 1024
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// wireMessage is one message in the chat completions wire format.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireRequest is the request body for the chat completions endpoint.
type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// wireResponse is the non-streaming response body.
type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (r *wireResponse) content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// wireError is the error envelope the API returns on non-200 responses.
type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// httpStatusError carries an HTTP status through the retry classifier.
type httpStatusError struct {
	Status  int
	Message string
}

func (e *httpStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// =============================================================================
// CONFIG
// =============================================================================

// RemoteConfig holds the settings for the remote API provider.
type RemoteConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
}

// DefaultRemoteConfig returns the standard remote settings. The API key is
// left empty and must be supplied by the caller.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:        DefaultRemoteURL,
		Model:          DefaultRemoteModel,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: retryBaseDelay,
		RetryMaxDelay:  retryMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// normalized fills zero values with defaults.
func (c RemoteConfig) normalized() RemoteConfig {
	def := DefaultRemoteConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = def.RetryMaxDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	return c
}

// =============================================================================
// REMOTE PROVIDER
// =============================================================================

// Remote talks to a hosted chat completions API. Every call passes through
// the rate limiter exactly once before any network traffic; transient
// failures are retried with exponential backoff inside that one admission.
type Remote struct {
	cfg        RemoteConfig
	limiter    *limiter.Limiter
	httpClient *http.Client
	// streamClient has no client timeout; streams are bounded by context.
	streamClient *http.Client
}

// NewRemote constructs the remote provider. lim may be nil, in which case
// calls are unthrottled (used by tests).
func NewRemote(cfg RemoteConfig, lim *limiter.Limiter) *Remote {
	cfg = cfg.normalized()
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &Remote{
		cfg:     cfg,
		limiter: lim,
		httpClient: &http.Client{
			Timeout: cfg.AttemptTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		streamClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name implements Provider.
func (r *Remote) Name() string { return "remote-api" }

// IsConfigured reports whether an API key is present.
func (r *Remote) IsConfigured() bool { return r.cfg.APIKey != "" }

// KeyFingerprint returns a SHA-256 fingerprint of the API key for logging.
// The key itself is never logged.
func (r *Remote) KeyFingerprint() string {
	if r.cfg.APIKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(r.cfg.APIKey))
	return hex.EncodeToString(h[:4])
}

// Generate implements Provider. It acquires one rate-limit admission, then
// retries transient failures with exponential backoff until the attempt
// budget is spent. Authentication and configuration failures abort
// immediately; caller cancellation aborts between attempts.
func (r *Remote) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	if err := validateContext(turns); err != nil {
		return "", err
	}
	if !r.IsConfigured() {
		return "", &ConfigurationError{Reason: "remote-api: API key not set"}
	}
	if r.limiter != nil {
		if err := r.limiter.Acquire(); err != nil {
			return "", err
		}
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			log.Printf("remote-api: attempt %d/%d failed, retrying in %s", attempt, r.cfg.MaxRetries, delay)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		reply, err := r.doGenerate(ctx, turns)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}

	return "", &ProviderUnavailable{
		Provider: r.Name(),
		Attempts: r.cfg.MaxRetries,
		Err:      lastErr,
	}
}

// doGenerate performs one HTTP attempt against the completions endpoint.
func (r *Remote) doGenerate(ctx context.Context, turns []model.Turn) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(wireRequest{
		Model:    r.cfg.Model,
		Messages: toWireMessages(turns),
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	r.setHeaders(req)

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	log.Printf("remote-api: response %d (%v)", resp.StatusCode, time.Since(start).Round(time.Millisecond))

	respBody, err := readLimited(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", r.classifyStatus(resp.StatusCode, respBody)
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &NetworkError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return parsed.content(), nil
}

// classifyStatus maps an HTTP error status to the provider error taxonomy.
// 401/403 are authentication failures and never retried; 429 and 5xx are
// transient; everything else in 4xx is a final request error.
func (r *Remote) classifyStatus(status int, body []byte) error {
	msg := ""
	var apiErr wireError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		msg = apiErr.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{
			Provider: r.Name(),
			Status:   status,
			Err:      &httpStatusError{Status: status, Message: msg},
		}
	case status == http.StatusTooManyRequests || status >= 500:
		return &NetworkError{Err: &httpStatusError{Status: status, Message: msg}}
	default:
		return &RequestError{
			Provider: r.Name(),
			Status:   status,
			Err:      &httpStatusError{Status: status, Message: msg},
		}
	}
}

// backoff returns the delay before the given attempt number (1-based).
func (r *Remote) backoff(attempt int) time.Duration {
	delay := r.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > r.cfg.RetryMaxDelay {
		delay = r.cfg.RetryMaxDelay
	}
	return delay
}

func (r *Remote) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parley/0.1.0")
}

// toWireMessages converts conversation turns to the wire format, preserving
// order.
func toWireMessages(turns []model.Turn) []wireMessage {
	msgs := make([]wireMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, wireMessage{Role: t.Role.String(), Content: t.Content})
	}
	return msgs
}

// readLimited reads a response body with a size cap.
func readLimited(rc io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(rc, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}
