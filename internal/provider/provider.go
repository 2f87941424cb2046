// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the generation backends available to a
// conversation session and the uniform interface they present: turns in,
// text out, with optional incremental streaming.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// CHUNK
// =============================================================================

// Chunk is one unit of streamed output. A successful stream delivers zero
// or more text chunks followed by exactly one chunk with Final set. A
// failed stream delivers a chunk with Err set and then closes.
type Chunk struct {
	Text  string
	Final bool
	Err   error
}

// =============================================================================
// INTERFACES
// =============================================================================

// Provider generates a reply from an ordered conversation context. The
// context slice is never mutated. Generate blocks until the full reply is
// available or ctx is cancelled.
type Provider interface {
	// Name returns the stable registry name of this provider.
	Name() string

	// Generate produces a complete reply for the given turns.
	Generate(ctx context.Context, turns []model.Turn) (string, error)
}

// Streamer is implemented by providers that can deliver a reply
// incrementally. The returned channel is closed after the final chunk or
// after an error chunk; it is never reused across calls.
type Streamer interface {
	Provider
	Stream(ctx context.Context, turns []model.Turn) (<-chan Chunk, error)
}

// Closer is implemented by providers holding resources that outlive a
// single call, such as a loaded local model.
type Closer interface {
	Close() error
}

// =============================================================================
// DESCRIPTOR
// =============================================================================

// Descriptor is the static metadata the registry exposes for a provider
// without constructing it.
type Descriptor struct {
	Name               string
	RequiresCredential bool
	SupportsStreaming  bool
	RateCapacity       int           // 0 = unlimited
	RateWindow         time.Duration // 0 = unlimited
}

// validateContext rejects an empty or all-blank context before any work
// is done. Shared by every provider implementation.
func validateContext(turns []model.Turn) error {
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) != "" {
			return nil
		}
	}
	return ErrEmptyContext
}
