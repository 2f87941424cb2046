// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST PROVIDERS
// =============================================================================

// atomicProvider returns its reply in one blocking call.
type atomicProvider struct {
	reply string
	err   error
}

func (p *atomicProvider) Name() string { return "atomic-test" }

func (p *atomicProvider) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

// chunkProvider emits a fixed chunk sequence.
type chunkProvider struct {
	chunks []provider.Chunk
	block  chan struct{} // if set, block before each chunk until signalled
}

func (p *chunkProvider) Name() string { return "chunk-test" }

func (p *chunkProvider) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	return "", errors.New("use Stream")
}

func (p *chunkProvider) Stream(ctx context.Context, turns []model.Turn) (<-chan provider.Chunk, error) {
	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		for _, c := range p.chunks {
			if p.block != nil {
				select {
				case <-p.block:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func turns() []model.Turn {
	return []model.Turn{model.NewUserTurn("hello")}
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

func TestDispatch_AtomicProviderSingleChunk(t *testing.T) {
	s, err := Dispatch(context.Background(), &atomicProvider{reply: "full reply"}, turns())
	require.NoError(t, err)

	first, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "full reply", first.Text)
	require.False(t, first.Final)

	final, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, final.Final)
	require.True(t, s.Done())
}

func TestDispatch_StreamingProvider(t *testing.T) {
	p := &chunkProvider{chunks: []provider.Chunk{
		{Text: "a"}, {Text: "b"}, {Text: "c"}, {Final: true},
	}}

	s, err := Dispatch(context.Background(), p, turns())
	require.NoError(t, err)

	text, err := s.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", text)
}

func TestDispatch_NotRestartable(t *testing.T) {
	s, err := Dispatch(context.Background(), &atomicProvider{reply: "once"}, turns())
	require.NoError(t, err)

	_, err = s.Drain(context.Background())
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, provider.ErrStreamExhausted)
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, provider.ErrStreamExhausted)
}

func TestDispatch_GenerateErrorSurfacesOnNext(t *testing.T) {
	wantErr := errors.New("backend down")
	s, err := Dispatch(context.Background(), &atomicProvider{err: wantErr}, turns())
	require.NoError(t, err, "dispatch itself succeeds; the failure arrives as a chunk")

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, wantErr)
	require.True(t, s.Done())

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, provider.ErrStreamExhausted)
}

func TestDispatch_MidStreamError(t *testing.T) {
	wantErr := errors.New("connection reset")
	p := &chunkProvider{chunks: []provider.Chunk{
		{Text: "par"}, {Text: "tial"}, {Err: wantErr},
	}}

	s, err := Dispatch(context.Background(), p, turns())
	require.NoError(t, err)

	text, err := s.Drain(context.Background())
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, "partial", text, "partial text remains observable after failure")
}

func TestDispatch_Cancel(t *testing.T) {
	block := make(chan struct{})
	p := &chunkProvider{
		chunks: []provider.Chunk{{Text: "never delivered"}, {Final: true}},
		block:  block,
	}

	s, err := Dispatch(context.Background(), p, turns())
	require.NoError(t, err)

	s.Cancel()

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, provider.ErrStreamExhausted)
	close(block)
}

func TestDispatch_NextHonorsCallerContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := &chunkProvider{
		chunks: []provider.Chunk{{Text: "slow"}, {Final: true}},
		block:  block,
	}

	s, err := Dispatch(context.Background(), p, turns())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
