// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/limiter"
)

// Rate limit defaults for the remote provider.
const (
	DefaultRateCapacity = 30
	DefaultRateWindow   = time.Minute
)

// =============================================================================
// REGISTRY CONFIG
// =============================================================================

// RegistryConfig carries the settings needed to construct any provider.
type RegistryConfig struct {
	Remote       RemoteConfig
	Local        LocalConfig
	RateCapacity int
	RateWindow   time.Duration
}

// DefaultRegistryConfig returns a registry configuration with standard
// settings for every provider.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Remote:       DefaultRemoteConfig(),
		Local:        DefaultLocalConfig(),
		RateCapacity: DefaultRateCapacity,
		RateWindow:   DefaultRateWindow,
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps provider names to constructed providers. Construction is
// lazy and cached: resolving the same name twice returns the same
// instance, and no provider performs network traffic or loads a model at
// construction time.
type Registry struct {
	cfg RegistryConfig

	mu    sync.Mutex
	cache map[string]Provider
}

// NewRegistry creates a registry with the given configuration.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.RateCapacity <= 0 {
		cfg.RateCapacity = DefaultRateCapacity
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	return &Registry{
		cfg:   cfg,
		cache: make(map[string]Provider),
	}
}

// Resolve returns the provider registered under name, constructing it on
// first use. Unknown names and unsatisfiable configurations (a remote
// provider without a credential) fail with ConfigurationError.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	var p Provider
	switch name {
	case "rule-based":
		p = NewRuleBased()
	case "remote-api":
		if r.cfg.Remote.APIKey == "" {
			return nil, &ConfigurationError{Reason: "remote-api requires an API key"}
		}
		p = NewRemote(r.cfg.Remote, limiter.New(r.cfg.RateCapacity, r.cfg.RateWindow))
	case "local-model":
		p = NewLocal(r.cfg.Local)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown provider %q", name)}
	}

	r.cache[name] = p
	return p, nil
}

// Descriptor returns the static metadata for a provider name without
// constructing it.
func (r *Registry) Descriptor(name string) (Descriptor, error) {
	switch name {
	case "rule-based":
		return Descriptor{
			Name:               "rule-based",
			RequiresCredential: false,
			SupportsStreaming:  false,
		}, nil
	case "remote-api":
		return Descriptor{
			Name:               "remote-api",
			RequiresCredential: true,
			SupportsStreaming:  true,
			RateCapacity:       r.cfg.RateCapacity,
			RateWindow:         r.cfg.RateWindow,
		}, nil
	case "local-model":
		return Descriptor{
			Name:               "local-model",
			RequiresCredential: false,
			SupportsStreaming:  true,
		}, nil
	default:
		return Descriptor{}, &ConfigurationError{Reason: fmt.Sprintf("unknown provider %q", name)}
	}
}

// Descriptors returns metadata for every registered provider, sorted by
// name.
func (r *Registry) Descriptors() []Descriptor {
	names := []string{"local-model", "remote-api", "rule-based"}
	sort.Strings(names)
	descs := make([]Descriptor, 0, len(names))
	for _, n := range names {
		d, _ := r.Descriptor(n)
		descs = append(descs, d)
	}
	return descs
}

// Close releases every constructed provider that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, p := range r.cache {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.cache = make(map[string]Provider)
	return firstErr
}
