// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive stores finished conversations in a local SQLite
// database so they can be listed, searched, and reloaded later.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jeranaias/parley/internal/model"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrNotFound is returned when a conversation ID does not exist.
var ErrNotFound = errors.New("conversation not found")

// schema creates the archive tables.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	turn_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	turn_id         TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversations_created
	ON conversations(created_at DESC);
`

// =============================================================================
// STORE
// =============================================================================

// Meta summarizes an archived conversation.
type Meta struct {
	ID        string
	Provider  string
	CreatedAt time.Time
	TurnCount int
}

// Store is a conversation archive backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveConversation archives the turns under a fresh conversation ID. The
// insert is transactional: a failed save leaves no partial conversation.
func (s *Store) SaveConversation(providerName string, turns []model.Turn) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO conversations (id, provider, created_at, turn_count) VALUES (?, ?, ?, ?)",
		id, providerName, time.Now().UTC(), len(turns),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert conversation: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO turns (conversation_id, seq, turn_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range turns {
		if _, err := stmt.Exec(id, i, t.ID, t.Role.String(), t.Content, t.Timestamp.UTC()); err != nil {
			return "", fmt.Errorf("failed to insert turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return id, nil
}

// Load returns the turns of an archived conversation in order.
func (s *Store) Load(id string) ([]model.Turn, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM conversations WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT turn_id, role, content, created_at FROM turns WHERE conversation_id = ? ORDER BY seq",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var turnID, role, content string
		var createdAt time.Time
		if err := rows.Scan(&turnID, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, model.Turn{
			ID:        turnID,
			Role:      model.Role(role),
			Content:   content,
			Timestamp: createdAt,
		})
	}
	return turns, rows.Err()
}

// List returns conversation summaries, most recent first.
func (s *Store) List() ([]Meta, error) {
	rows, err := s.db.Query(
		"SELECT id, provider, created_at, turn_count FROM conversations ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.ID, &m.Provider, &m.CreatedAt, &m.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Search returns summaries of conversations whose content matches the
// query substring, most recent first.
func (s *Store) Search(query string) ([]Meta, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT c.id, c.provider, c.created_at, c.turn_count
		FROM conversations c
		JOIN turns t ON t.conversation_id = c.id
		WHERE t.content LIKE '%' || ? || '%'
		ORDER BY c.created_at DESC`,
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.ID, &m.Provider, &m.CreatedAt, &m.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes an archived conversation and its turns.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
