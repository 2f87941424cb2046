// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine simulates the local inference daemon: a model list endpoint
// and a chat endpoint speaking NDJSON.
func fakeEngine(t *testing.T, model string, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var initCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		initCalls.Add(1)
		fmt.Fprintf(w, `{"models": [{"name": %q}]}`, model)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintf(w, `{"model": %q, "message": {"role": "assistant", "content": %q}, "done": true}`+"\n", model, reply)
	})
	return httptest.NewServer(mux), &initCalls
}

func testLocalConfig(baseURL string) LocalConfig {
	cfg := DefaultLocalConfig()
	cfg.BaseURL = baseURL
	cfg.Model = "test-model"
	return cfg
}

func TestLocal_LazyInitialization(t *testing.T) {
	server, initCalls := fakeEngine(t, "test-model", "local reply")
	defer server.Close()

	p := NewLocal(testLocalConfig(server.URL))
	require.EqualValues(t, 0, initCalls.Load(), "construction must not touch the engine")

	reply, err := p.Generate(context.Background(), userTurns("hello"))
	require.NoError(t, err)
	require.Equal(t, "local reply", reply)
	require.EqualValues(t, 1, initCalls.Load())

	// Second call reuses the cached handle.
	_, err = p.Generate(context.Background(), userTurns("again"))
	require.NoError(t, err)
	require.EqualValues(t, 1, initCalls.Load(), "initialization must run once")
}

func TestLocal_InitFailure(t *testing.T) {
	cfg := testLocalConfig("http://127.0.0.1:1") // nothing listens here
	cfg.InitTimeout = 500 * time.Millisecond
	p := NewLocal(cfg)

	_, err := p.Generate(context.Background(), userTurns("hello"))
	var localErr *LocalModelError
	require.ErrorAs(t, err, &localErr)
	require.Equal(t, "init", localErr.Op)
}

func TestLocal_ModelNotAvailable(t *testing.T) {
	server, _ := fakeEngine(t, "other-model", "")
	defer server.Close()

	p := NewLocal(testLocalConfig(server.URL))
	_, err := p.Generate(context.Background(), userTurns("hello"))

	var localErr *LocalModelError
	require.ErrorAs(t, err, &localErr)
	require.Equal(t, "init", localErr.Op)
	require.Contains(t, localErr.Error(), "test-model")
}

func TestLocal_Stream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models": [{"name": "test-model"}]}`)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message": {"content": "one "}, "done": false}`)
		fmt.Fprintln(w, `{"message": {"content": "two"}, "done": true}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewLocal(testLocalConfig(server.URL))
	chunks, err := p.Stream(context.Background(), userTurns("hi"))
	require.NoError(t, err)

	var text string
	var sawFinal bool
	for c := range chunks {
		require.NoError(t, c.Err)
		if c.Final {
			sawFinal = true
			continue
		}
		text += c.Text
	}
	require.Equal(t, "one two", text)
	require.True(t, sawFinal)
}

func TestLocal_Close(t *testing.T) {
	server, _ := fakeEngine(t, "test-model", "reply")
	defer server.Close()

	p := NewLocal(testLocalConfig(server.URL))
	_, err := p.Generate(context.Background(), userTurns("hello"))
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.Generate(context.Background(), userTurns("after close"))
	var localErr *LocalModelError
	require.ErrorAs(t, err, &localErr)
}
