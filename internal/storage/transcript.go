// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation transcripts to disk.
//
// The on-disk format is JSON Lines: one record per turn, in chronological
// order. The format is append-friendly, diffs cleanly, and loads back
// into exactly the turns that were saved.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// transcriptRecord is the serialized form of one turn.
type transcriptRecord struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SaveTranscript writes turns to path in JSON Lines form. The write is
// atomic: the file is never observable in a partially written state.
func SaveTranscript(path string, turns []model.Turn) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range turns {
		rec := transcriptRecord{
			ID:        t.ID,
			Role:      t.Role.String(),
			Content:   t.Content,
			Timestamp: t.Timestamp,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode turn %s: %w", t.ID, err)
		}
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// LoadTranscript reads a transcript back into turns, preserving order,
// content, roles, and timestamps exactly as saved.
func LoadTranscript(path string) ([]model.Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var turns []model.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec transcriptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("malformed transcript line %d: %w", lineNo, err)
		}
		role := model.Role(rec.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("malformed transcript line %d: unknown role %q", lineNo, rec.Role)
		}
		turns = append(turns, model.Turn{
			ID:        rec.ID,
			Role:      role,
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return turns, nil
}

// ExportText writes turns as a plain-text transcript for human reading.
// Unlike the JSON Lines form it is not round-trippable.
func ExportText(path string, turns []model.Turn) error {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Conversation exported %s\n", time.Now().Format("2006-01-02 15:04:05")))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	for _, t := range turns {
		b.WriteString(fmt.Sprintf("%s: %s\n\n", t.Role.DisplayName(), t.Content))
	}
	return util.AtomicWriteFile(path, []byte(b.String()), 0644)
}
