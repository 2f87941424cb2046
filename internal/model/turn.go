// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversation turns and
// bounded conversation history.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies the sender of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "AI"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is a single role-tagged message in a conversation.
// A Turn is a value and is never mutated after creation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn with a generated ID and the current time. The
// timestamp is stored in UTC without a monotonic reading so turns compare
// equal after a serialization round trip.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        "turn_" + uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// NewUserTurn creates a new user turn.
func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates a new assistant turn.
func NewAssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content)
}

// NewSystemTurn creates a new system turn.
func NewSystemTurn(content string) Turn {
	return NewTurn(RoleSystem, content)
}

// IsSystem reports whether this is a system turn.
func (t Turn) IsSystem() bool {
	return t.Role == RoleSystem
}

// Size returns the content size in bytes, used for history budgeting.
func (t Turn) Size() int {
	return len(t.Content)
}

// Preview returns a truncated preview of the turn content.
// Uses rune-based truncation to handle Unicode correctly.
func (t Turn) Preview(maxLen int) string {
	runes := []rune(t.Content)
	if len(runes) <= maxLen {
		return t.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
