// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "sync"

// =============================================================================
// HISTORY BUDGET
// =============================================================================

// Budget bounds a conversation history. A history may hold at most MaxTurns
// non-system turns and at most MaxBytes of total content across all turns.
// System turns count toward MaxBytes but are never evicted.
type Budget struct {
	// MaxTurns is the maximum number of non-system turns (default: 50).
	MaxTurns int

	// MaxBytes is the maximum total content size in bytes (default: 256 KiB).
	MaxBytes int
}

// DefaultBudget returns the default history budget.
func DefaultBudget() Budget {
	return Budget{
		MaxTurns: 50,
		MaxBytes: 256 * 1024,
	}
}

// normalized fills zero values with defaults.
func (b Budget) normalized() Budget {
	def := DefaultBudget()
	if b.MaxTurns <= 0 {
		b.MaxTurns = def.MaxTurns
	}
	if b.MaxBytes <= 0 {
		b.MaxBytes = def.MaxBytes
	}
	return b
}

// =============================================================================
// HISTORY
// =============================================================================

// History is an ordered, bounded record of conversation turns.
// Insertion order is conversational order and is never changed. When the
// budget is exceeded the oldest non-system turns are evicted first; system
// turns are never evicted.
type History struct {
	mu     sync.Mutex
	turns  []Turn
	budget Budget
}

// NewHistory creates an empty history with the given budget.
// Zero budget fields fall back to DefaultBudget values.
func NewHistory(budget Budget) *History {
	return &History{
		budget: budget.normalized(),
	}
}

// Append adds a turn at the end of the history and enforces the budget.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	h.truncateLocked()
}

// Turns returns a copy of the history in conversational order.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Replace swaps the entire history contents, preserving the given order,
// then enforces the budget. Used when restoring a persisted conversation.
func (h *History) Replace(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make([]Turn, len(turns))
	copy(h.turns, turns)
	h.truncateLocked()
}

// Clear removes all turns, including system turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// Len returns the total number of turns, system turns included.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// TotalBytes returns the total content size across all turns.
func (h *History) TotalBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalBytesLocked()
}

// Budget returns the configured budget.
func (h *History) Budget() Budget {
	return h.budget
}

// =============================================================================
// TRUNCATION
// =============================================================================

// truncateLocked evicts the oldest non-system turns until the history fits
// the budget. System turns are skipped; eviction preserves the relative
// order of everything that remains. Caller must hold h.mu.
func (h *History) truncateLocked() {
	for h.overBudgetLocked() {
		idx := h.oldestEvictableLocked()
		if idx < 0 {
			// Only system turns left; nothing more can be evicted.
			return
		}
		h.turns = append(h.turns[:idx], h.turns[idx+1:]...)
	}
}

// overBudgetLocked reports whether the history currently exceeds its budget.
func (h *History) overBudgetLocked() bool {
	if h.nonSystemCountLocked() > h.budget.MaxTurns {
		return true
	}
	return h.totalBytesLocked() > h.budget.MaxBytes
}

// oldestEvictableLocked returns the index of the oldest non-system turn,
// or -1 if none exists.
func (h *History) oldestEvictableLocked() int {
	for i, t := range h.turns {
		if !t.IsSystem() {
			return i
		}
	}
	return -1
}

func (h *History) nonSystemCountLocked() int {
	n := 0
	for _, t := range h.turns {
		if !t.IsSystem() {
			n++
		}
	}
	return n
}

func (h *History) totalBytesLocked() int {
	total := 0
	for _, t := range h.turns {
		total += t.Size()
	}
	return total
}
