// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrEmptyContext is returned when a generate call receives no turns
	// or only blank content.
	ErrEmptyContext = errors.New("conversation context is empty")

	// ErrStreamExhausted is returned by a stream once the final chunk has
	// been consumed.
	ErrStreamExhausted = errors.New("stream exhausted")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// ConfigurationError indicates a request that can never succeed as
// configured: an unknown provider name, a missing credential, an invalid
// setting. It is detected before any network traffic.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// AuthenticationError indicates the remote endpoint rejected the
// credential. Never retried: a bad key does not become valid on the next
// attempt.
type AuthenticationError struct {
	Provider string
	Status   int
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication rejected (HTTP %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: authentication rejected (HTTP %d)", e.Provider, e.Status)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RequestError indicates the endpoint rejected the request itself: a 4xx
// other than an authentication or throttling status. Never retried; the
// same request cannot succeed on another attempt.
type RequestError struct {
	Provider string
	Status   int
	Err      error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: request rejected (HTTP %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: request rejected (HTTP %d)", e.Provider, e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NetworkError wraps a transient transport or server failure. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderUnavailable is the terminal error after the retry budget is
// exhausted. It wraps the last underlying failure.
type ProviderUnavailable struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderUnavailable) Error() string {
	return fmt.Sprintf("%s: unavailable after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderUnavailable) Unwrap() error { return e.Err }

// LocalModelError indicates a failure inside the local inference engine,
// either during lazy initialization or during a generate call.
type LocalModelError struct {
	Op  string // "init" or "generate"
	Err error
}

func (e *LocalModelError) Error() string {
	return fmt.Sprintf("local model %s failed: %v", e.Op, e.Err)
}

func (e *LocalModelError) Unwrap() error { return e.Err }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsRetryable reports whether err represents a transient failure worth
// another attempt. Authentication and configuration failures are final.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
