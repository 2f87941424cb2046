// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream normalizes provider output into a uniform pull-based
// chunk sequence. Callers consume the same Stream type whether the
// underlying provider emits incremental chunks or a single atomic reply.
package stream

import (
	"context"
	"strings"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// DISPATCH
// =============================================================================

// Dispatch starts a generation against p and returns a Stream over its
// output. Providers implementing Streamer deliver chunks as they arrive;
// plain providers are wrapped so the whole reply surfaces as one text
// chunk followed by the final chunk. Setup failures (rate limiting,
// missing configuration) are returned directly and no Stream is created;
// network-phase failures surface through the Stream itself.
func Dispatch(ctx context.Context, p provider.Provider, turns []model.Turn) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	if s, ok := p.(provider.Streamer); ok {
		ch, err := s.Stream(streamCtx, turns)
		if err != nil {
			cancel()
			return nil, err
		}
		return newStream(streamCtx, cancel, ch), nil
	}

	// Plain provider: run the blocking generate in a goroutine and emit
	// its reply as a single chunk.
	ch := make(chan provider.Chunk, 2)
	go func() {
		defer close(ch)
		reply, err := p.Generate(streamCtx, turns)
		if err != nil {
			ch <- provider.Chunk{Err: err}
			return
		}
		ch <- provider.Chunk{Text: reply}
		ch <- provider.Chunk{Final: true}
	}()
	return newStream(streamCtx, cancel, ch), nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, finite, non-restartable sequence of chunks. Chunks are
// pulled with Next; once the final chunk or an error chunk has been
// delivered, the stream is exhausted and every further Next fails with
// ErrStreamExhausted.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     <-chan provider.Chunk

	text     strings.Builder
	finished bool
}

func newStream(ctx context.Context, cancel context.CancelFunc, ch <-chan provider.Chunk) *Stream {
	return &Stream{ctx: ctx, cancel: cancel, ch: ch}
}

// Next returns the next chunk. It blocks until a chunk arrives, the
// stream ends, or ctx is cancelled. A chunk with Err set is terminal, as
// is the chunk with Final set.
func (s *Stream) Next(ctx context.Context) (provider.Chunk, error) {
	if s.finished {
		return provider.Chunk{}, provider.ErrStreamExhausted
	}

	select {
	case <-ctx.Done():
		s.finish()
		return provider.Chunk{}, ctx.Err()
	case <-s.ctx.Done():
		s.finish()
		return provider.Chunk{}, s.ctx.Err()
	case c, ok := <-s.ch:
		if !ok {
			// Channel closed without a terminal chunk: treat as final.
			s.finish()
			return provider.Chunk{Final: true}, nil
		}
		if c.Err != nil {
			s.finish()
			return provider.Chunk{}, c.Err
		}
		if c.Final {
			s.finish()
			return c, nil
		}
		s.text.WriteString(c.Text)
		return c, nil
	}
}

// Drain consumes the remaining chunks and returns the full accumulated
// text. It fails with the first error encountered.
func (s *Stream) Drain(ctx context.Context) (string, error) {
	for {
		c, err := s.Next(ctx)
		if err != nil {
			return s.text.String(), err
		}
		if c.Final {
			return s.text.String(), nil
		}
	}
}

// Text returns the text accumulated so far.
func (s *Stream) Text() string { return s.text.String() }

// Done reports whether the stream has delivered its terminal chunk.
func (s *Stream) Done() bool { return s.finished }

// Cancel abandons the stream. Any undelivered chunks are discarded and
// the underlying generation is stopped.
func (s *Stream) Cancel() {
	s.finish()
}

func (s *Stream) finish() {
	s.finished = true
	s.cancel()
}
