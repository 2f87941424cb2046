// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates a conversation: it owns the history, the
// active provider, and the lifecycle of each exchange from dispatch to
// completion.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/archive"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/stream"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle phase of the most recent exchange.
type State int

const (
	// StateIdle means no exchange is in flight.
	StateIdle State = iota
	// StateDispatching means a message has been accepted and the provider
	// connection is being opened.
	StateDispatching
	// StateStreaming means a reply is being consumed.
	StateStreaming
	// StateCompleted means the last exchange finished and was recorded.
	StateCompleted
	// StateFailed means the last exchange failed; nothing was recorded.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// =============================================================================
// CONFIG SNAPSHOT
// =============================================================================

// Config is a read-only snapshot of the session's active settings.
type Config struct {
	Provider     string
	Streaming    bool
	RateCapacity int
	RateWindow   time.Duration
	MaxTurns     int
	MaxBytes     int
}

// =============================================================================
// SESSION
// =============================================================================

// Session ties a provider to a bounded conversation history. An exchange
// only ever lands in history as a whole: the user turn and the assistant
// turn are appended together when the reply completes, so a failed or
// cancelled exchange leaves the history exactly as it was.
type Session struct {
	registry     *provider.Registry
	providerName string
	prov         provider.Provider
	history      *model.History

	mu    sync.Mutex
	state State

	store *archive.Store // optional
}

// New resolves the named provider from the registry and creates a session
// around an empty history.
func New(reg *provider.Registry, providerName string, budget model.Budget) (*Session, error) {
	p, err := reg.Resolve(providerName)
	if err != nil {
		return nil, err
	}
	return &Session{
		registry:     reg,
		providerName: providerName,
		prov:         p,
		history:      model.NewHistory(budget),
		state:        StateIdle,
	}, nil
}

// Send starts one exchange. The user message is validated, combined with
// the existing history into the provider context, and dispatched. The
// message is NOT yet part of the history: it is recorded together with
// the assistant reply when the returned Reply completes. Setup failures
// (rate limit, missing configuration) return an error and leave the
// session unchanged; provider-side failures surface while consuming the
// Reply. The session is in StateDispatching until the dispatch resolves.
func (s *Session) Send(ctx context.Context, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, provider.ErrEmptyContext
	}

	s.mu.Lock()
	userTurn := model.NewUserTurn(message)
	contextTurns := append(s.history.Turns(), userTurn)
	prov := s.prov
	s.state = StateDispatching
	s.mu.Unlock()

	st, err := stream.Dispatch(ctx, prov, contextTurns)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.mu.Lock()
	s.state = StateStreaming
	s.mu.Unlock()
	return &Reply{sess: s, userTurn: userTurn, st: st}, nil
}

// complete records a finished exchange: both turns enter the history
// atomically with respect to other session calls.
func (s *Session) complete(userTurn model.Turn, replyText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(userTurn)
	s.history.Append(model.NewAssistantTurn(replyText))
	s.state = StateCompleted
}

// fail marks the exchange failed. The history is untouched.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	log.Printf("session: exchange with %s failed: %v", s.providerName, err)
}

// History returns a copy of the recorded turns in order.
func (s *Session) History() []model.Turn {
	return s.history.Turns()
}

// Clear discards all history. The provider and its resources are
// untouched.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
	s.state = StateIdle
}

// State returns the lifecycle phase of the most recent exchange.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Save writes the history to path as a transcript. The file appears
// atomically.
func (s *Session) Save(path string) error {
	return storage.SaveTranscript(path, s.history.Turns())
}

// Load replaces the history with the transcript at path. The current
// history is only discarded if the load succeeds.
func (s *Session) Load(path string) error {
	turns, err := storage.LoadTranscript(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Replace(turns)
	s.state = StateIdle
	return nil
}

// ExportText writes the history as a human-readable transcript.
func (s *Session) ExportText(path string) error {
	return storage.ExportText(path, s.history.Turns())
}

// CurrentConfig reports the active provider and its limits.
func (s *Session) CurrentConfig() Config {
	desc, _ := s.registry.Descriptor(s.providerName)
	budget := s.history.Budget()
	return Config{
		Provider:     s.providerName,
		Streaming:    desc.SupportsStreaming,
		RateCapacity: desc.RateCapacity,
		RateWindow:   desc.RateWindow,
		MaxTurns:     budget.MaxTurns,
		MaxBytes:     budget.MaxBytes,
	}
}

// SwitchProvider resolves a different provider and makes it active. The
// history carries over.
func (s *Session) SwitchProvider(name string) error {
	p, err := s.registry.Resolve(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerName = name
	s.prov = p
	return nil
}

// AttachArchive connects a conversation archive. Archiving is optional;
// a session without a store simply refuses ArchiveConversation.
func (s *Session) AttachArchive(store *archive.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// ArchiveConversation saves the current history into the attached archive
// and returns the conversation ID.
func (s *Session) ArchiveConversation() (string, error) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return "", fmt.Errorf("no archive attached")
	}
	return store.SaveConversation(s.providerName, s.history.Turns())
}

// Close releases provider resources held by the session.
func (s *Session) Close() error {
	if c, ok := s.prov.(provider.Closer); ok {
		return c.Close()
	}
	return nil
}

// =============================================================================
// REPLY
// =============================================================================

// Reply is the in-flight assistant response for one exchange. Consuming
// it drives the underlying stream; when the final chunk arrives the
// exchange is committed to history, and on failure or cancellation
// nothing is.
type Reply struct {
	sess     *Session
	userTurn model.Turn
	st       *stream.Stream
	settled  bool
}

// Next returns the next chunk of the reply. The terminal outcomes are:
// a Final chunk, after which the exchange is recorded; or an error, after
// which the history is unchanged.
func (r *Reply) Next(ctx context.Context) (provider.Chunk, error) {
	c, err := r.st.Next(ctx)
	if err != nil {
		if !r.settled && err != provider.ErrStreamExhausted {
			r.settled = true
			r.sess.fail(err)
		}
		return provider.Chunk{}, err
	}
	if c.Final && !r.settled {
		r.settled = true
		r.sess.complete(r.userTurn, r.st.Text())
	}
	return c, nil
}

// Drain consumes the rest of the reply and returns the full text.
func (r *Reply) Drain(ctx context.Context) (string, error) {
	for {
		c, err := r.Next(ctx)
		if err != nil {
			return r.st.Text(), err
		}
		if c.Final {
			return r.st.Text(), nil
		}
	}
}

// Text returns the reply text accumulated so far.
func (r *Reply) Text() string { return r.st.Text() }

// Cancel abandons the reply. Partial output is discarded and no turns are
// recorded.
func (r *Reply) Cancel() {
	if !r.settled {
		r.settled = true
		r.st.Cancel()
		r.sess.fail(context.Canceled)
	}
}
