// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveRuleBased(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig())

	p, err := reg.Resolve("rule-based")
	require.NoError(t, err)
	require.Equal(t, "rule-based", p.Name())
}

func TestRegistry_ResolveCached(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig())

	first, err := reg.Resolve("rule-based")
	require.NoError(t, err)
	second, err := reg.Resolve("rule-based")
	require.NoError(t, err)
	require.Same(t, first, second, "resolving twice must return the same instance")
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig())

	_, err := reg.Resolve("quantum-oracle")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Error(), "quantum-oracle")
}

func TestRegistry_RemoteRequiresCredential(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.Remote.APIKey = ""
	reg := NewRegistry(cfg)

	_, err := reg.Resolve("remote-api")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	cfg.Remote.APIKey = "test-key"
	reg = NewRegistry(cfg)
	p, err := reg.Resolve("remote-api")
	require.NoError(t, err)
	require.Equal(t, "remote-api", p.Name())
}

func TestRegistry_LocalConstructionIsLazy(t *testing.T) {
	// Resolving local-model must not contact any engine: the URL points
	// nowhere and construction still succeeds.
	cfg := DefaultRegistryConfig()
	cfg.Local.BaseURL = "http://127.0.0.1:1"
	reg := NewRegistry(cfg)

	p, err := reg.Resolve("local-model")
	require.NoError(t, err)
	require.Equal(t, "local-model", p.Name())
}

func TestRegistry_Descriptors(t *testing.T) {
	reg := NewRegistry(DefaultRegistryConfig())

	descs := reg.Descriptors()
	require.Len(t, descs, 3)

	byName := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	require.False(t, byName["rule-based"].RequiresCredential)
	require.False(t, byName["rule-based"].SupportsStreaming)

	require.True(t, byName["remote-api"].RequiresCredential)
	require.True(t, byName["remote-api"].SupportsStreaming)
	require.Equal(t, DefaultRateCapacity, byName["remote-api"].RateCapacity)

	require.False(t, byName["local-model"].RequiresCredential)
	require.True(t, byName["local-model"].SupportsStreaming)
}
