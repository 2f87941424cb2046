// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package limiter implements a fixed-window rate limiter for outbound
// provider calls. Admission is non-blocking: a call either proceeds or
// fails immediately with a RateLimitError carrying a retry-after hint.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

// RateLimitError is returned when a call would exceed the window capacity.
// RetryAfter reports how long until the current window resets.
type RateLimitError struct {
	Capacity   int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d calls per %s, retry after %s",
		e.Capacity, e.Window, e.RetryAfter.Round(time.Millisecond))
}

// =============================================================================
// LIMITER
// =============================================================================

// Limiter admits up to capacity calls per fixed window. The first admitted
// call opens a window; the counter resets at the window boundary, not
// continuously. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	capacity    int
	window      time.Duration
	windowStart time.Time
	calls       int

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter admitting capacity calls per window.
// Non-positive values fall back to a permissive default of 30 calls
// per minute.
func New(capacity int, window time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Acquire attempts to admit one call. It never blocks: either the call is
// admitted and nil is returned, or a *RateLimitError is returned with the
// time remaining until the window resets.
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.calls == 0 || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.calls = 1
		return nil
	}

	if l.calls < l.capacity {
		l.calls++
		return nil
	}

	return &RateLimitError{
		Capacity:   l.capacity,
		Window:     l.window,
		RetryAfter: l.window - now.Sub(l.windowStart),
	}
}

// Capacity returns the maximum number of calls admitted per window.
func (l *Limiter) Capacity() int { return l.capacity }

// Window returns the window duration.
func (l *Limiter) Window() time.Duration { return l.window }

// Remaining reports how many more calls the current window will admit.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.calls == 0 || l.now().Sub(l.windowStart) >= l.window {
		return l.capacity
	}
	return l.capacity - l.calls
}
