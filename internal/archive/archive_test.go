// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"path/filepath"
	"testing"

	"github.com/jeranaias/parley/internal/model"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := openTestStore(t)

	turns := []model.Turn{
		model.NewUserTurn("hello"),
		model.NewAssistantTurn("hi, how can I help?"),
	}

	id, err := store.SaveConversation("rule-based", turns)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, turns[0].ID, loaded[0].ID)
	require.Equal(t, turns[0].Content, loaded[0].Content)
	require.Equal(t, model.RoleAssistant, loaded[1].Role)
}

func TestStore_LoadUnknownID(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Load("no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	store := openTestStore(t)

	_, err := store.SaveConversation("rule-based", []model.Turn{model.NewUserTurn("first")})
	require.NoError(t, err)
	id2, err := store.SaveConversation("remote-api", []model.Turn{model.NewUserTurn("second"), model.NewAssistantTurn("reply")})
	require.NoError(t, err)

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)

	byID := make(map[string]Meta)
	for _, m := range metas {
		byID[m.ID] = m
	}
	require.Equal(t, 2, byID[id2].TurnCount)
	require.Equal(t, "remote-api", byID[id2].Provider)
}

func TestStore_Search(t *testing.T) {
	store := openTestStore(t)

	idMatch, err := store.SaveConversation("rule-based", []model.Turn{model.NewUserTurn("tell me about goroutines")})
	require.NoError(t, err)
	_, err = store.SaveConversation("rule-based", []model.Turn{model.NewUserTurn("what is the weather")})
	require.NoError(t, err)

	metas, err := store.Search("goroutines")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, idMatch, metas[0].ID)
}

func TestStore_Delete(t *testing.T) {
	store := openTestStore(t)

	id, err := store.SaveConversation("rule-based", []model.Turn{model.NewUserTurn("hello")})
	require.NoError(t, err)

	require.NoError(t, store.Delete(id))

	_, err = store.Load(id)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, store.Delete(id), ErrNotFound)
}
