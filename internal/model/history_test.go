// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// TURN TESTS
// =============================================================================

func TestNewTurn(t *testing.T) {
	turn := NewUserTurn("hello")

	if turn.Role != RoleUser {
		t.Errorf("Role = %q, want %q", turn.Role, RoleUser)
	}
	if turn.Content != "hello" {
		t.Errorf("Content = %q, want %q", turn.Content, "hello")
	}
	if !strings.HasPrefix(turn.ID, "turn_") {
		t.Errorf("ID should start with 'turn_', got %q", turn.ID)
	}
	if turn.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{Role("tool"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestTurn_Preview(t *testing.T) {
	turn := NewUserTurn("héllo wörld, this is a long message")

	preview := turn.Preview(10)
	if len([]rune(preview)) != 10 {
		t.Errorf("Preview length = %d runes, want 10", len([]rune(preview)))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("Preview should end with ellipsis, got %q", preview)
	}

	short := NewUserTurn("hi")
	if got := short.Preview(10); got != "hi" {
		t.Errorf("Preview of short content = %q, want %q", got, "hi")
	}
}

// =============================================================================
// HISTORY ORDER TESTS
// =============================================================================

func TestHistory_OrderPreserved(t *testing.T) {
	h := NewHistory(DefaultBudget())

	contents := []string{"one", "two", "three", "four", "five"}
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		h.Append(NewTurn(role, c))
	}

	turns := h.Turns()
	if len(turns) != len(contents) {
		t.Fatalf("Len = %d, want %d", len(turns), len(contents))
	}
	for i, c := range contents {
		if turns[i].Content != c {
			t.Errorf("turns[%d].Content = %q, want %q", i, turns[i].Content, c)
		}
	}
}

func TestHistory_TurnsReturnsCopy(t *testing.T) {
	h := NewHistory(DefaultBudget())
	h.Append(NewUserTurn("original"))

	turns := h.Turns()
	turns[0].Content = "mutated"

	if got := h.Turns()[0].Content; got != "original" {
		t.Errorf("history was mutated through returned slice: %q", got)
	}
}

// =============================================================================
// TRUNCATION TESTS
// =============================================================================

func TestHistory_TruncationBoundary(t *testing.T) {
	// Budget of K non-system turns: appending the (K+1)-th evicts exactly
	// the oldest non-system turn.
	const k = 4
	h := NewHistory(Budget{MaxTurns: k, MaxBytes: 1 << 20})

	h.Append(NewSystemTurn("system prompt"))
	for i := 0; i < k; i++ {
		h.Append(NewUserTurn("msg" + string(rune('a'+i))))
	}

	if h.Len() != k+1 {
		t.Fatalf("Len = %d, want %d", h.Len(), k+1)
	}

	h.Append(NewUserTurn("overflow"))

	turns := h.Turns()
	if len(turns) != k+1 {
		t.Fatalf("after overflow Len = %d, want %d", len(turns), k+1)
	}
	if turns[0].Role != RoleSystem {
		t.Errorf("system turn was evicted, first turn is %q", turns[0].Role)
	}
	if turns[1].Content != "msgb" {
		t.Errorf("oldest non-system turn should be evicted; turns[1] = %q, want %q", turns[1].Content, "msgb")
	}
	if turns[k].Content != "overflow" {
		t.Errorf("newest turn missing; turns[%d] = %q", k, turns[k].Content)
	}
}

func TestHistory_ByteBudgetEviction(t *testing.T) {
	h := NewHistory(Budget{MaxTurns: 100, MaxBytes: 20})

	h.Append(NewUserTurn("aaaaaaaaaa"))
	h.Append(NewUserTurn("bbbbbbbbbb"))
	h.Append(NewUserTurn("cccccccccc"))

	if got := h.TotalBytes(); got > 20 {
		t.Errorf("TotalBytes = %d, want <= 20", got)
	}
	turns := h.Turns()
	last := turns[len(turns)-1]
	if last.Content != "cccccccccc" {
		t.Errorf("newest turn should survive byte eviction, got %q", last.Content)
	}
}

func TestHistory_SystemTurnsNeverEvicted(t *testing.T) {
	h := NewHistory(Budget{MaxTurns: 2, MaxBytes: 1 << 20})

	h.Append(NewSystemTurn("first system"))
	h.Append(NewSystemTurn("second system"))
	for i := 0; i < 10; i++ {
		h.Append(NewUserTurn("filler"))
	}

	systemCount := 0
	for _, turn := range h.Turns() {
		if turn.IsSystem() {
			systemCount++
		}
	}
	if systemCount != 2 {
		t.Errorf("system turn count = %d, want 2", systemCount)
	}
}

func TestHistory_ClearAndReplace(t *testing.T) {
	h := NewHistory(DefaultBudget())
	h.Append(NewUserTurn("a"))
	h.Append(NewAssistantTurn("b"))

	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", h.Len())
	}

	restored := []Turn{NewUserTurn("x"), NewAssistantTurn("y"), NewUserTurn("z")}
	h.Replace(restored)

	turns := h.Turns()
	if len(turns) != 3 {
		t.Fatalf("Len after Replace = %d, want 3", len(turns))
	}
	for i, want := range []string{"x", "y", "z"} {
		if turns[i].Content != want {
			t.Errorf("turns[%d].Content = %q, want %q", i, turns[i].Content, want)
		}
	}
}
