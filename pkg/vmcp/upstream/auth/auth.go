// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides outgoing authentication for upstream MCP servers.
//
// Every outbound request to an upstream passes through a Strategy selected by
// the server's auth config: none, bearer, api_key, basic, header_set or
// oauth_pkce. Strategies are registered in a Registry and dispatched by type;
// the oauth_pkce strategy is backed by a Flow that owns the PKCE authorization
// dance and a pluggable TokenCache (in-memory or Redis).
//
// Secret-bearing config fields support environment indirection (token_env,
// key_env, password_env). ResolveSecrets materializes those before a config is
// handed to a strategy, so Authenticate implementations only ever see literal
// values.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

//go:generate mockgen -destination=mocks/mock_auth.go -package=mocks -source=auth.go Strategy,TokenCache

// Strategy defines how to authenticate an outbound request to one upstream.
// Implementations must be safe for concurrent use; they are shared across
// sessions.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// Authenticate modifies the request with authentication material drawn
	// from cfg. The config must already have secrets resolved.
	Authenticate(ctx context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error

	// Validate checks that cfg carries everything the strategy needs.
	Validate(cfg *authtypes.UpstreamAuthConfig) error
}

// Registry is a thread-safe registry of authentication strategies, dispatched
// by the strategy type recorded in each upstream's auth config.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry creates an empty strategy registry. Strategies must be
// registered before they can be used; most callers want NewDefaultRegistry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// NewDefaultRegistry creates a registry with all built-in strategies
// registered. The flow backs the oauth_pkce strategy; it may be nil when no
// OAuth upstreams are configured, in which case oauth_pkce dispatch fails.
func NewDefaultRegistry(flow *Flow) *Registry {
	r := NewRegistry()
	builtins := []Strategy{
		&noneStrategy{},
		&bearerStrategy{},
		&apiKeyStrategy{},
		&basicStrategy{},
		&headerSetStrategy{},
	}
	if flow != nil {
		builtins = append(builtins, &oauthStrategy{flow: flow})
	}
	for _, s := range builtins {
		// Built-in names are unique; registration cannot fail.
		_ = r.RegisterStrategy(s.Name(), s)
	}
	return r
}

// RegisterStrategy registers a strategy under its name. It validates that the
// registration name matches strategy.Name() and that the name is not taken.
func (r *Registry) RegisterStrategy(name string, strategy Strategy) error {
	if name == "" {
		return errors.New("strategy name cannot be empty")
	}
	if strategy == nil {
		return errors.New("strategy cannot be nil")
	}
	if name != strategy.Name() {
		return fmt.Errorf("strategy name mismatch: registered as %q but strategy.Name() returns %q",
			name, strategy.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q is already registered", name)
	}

	r.strategies[name] = strategy
	return nil
}

// GetStrategy retrieves a strategy by name.
func (r *Registry) GetStrategy(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("strategy %q not found", name)
	}

	return strategy, nil
}

// AuthenticateRequest adds authentication to an outgoing upstream request.
// The strategy is selected from cfg's type; a nil or empty config means no
// authentication. The config is validated before the strategy runs.
func (r *Registry) AuthenticateRequest(ctx context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error {
	name := cfg.StrategyType()

	strategy, err := r.GetStrategy(name)
	if err != nil {
		return err
	}

	if err := strategy.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config for strategy %q: %w", name, err)
	}

	return strategy.Authenticate(ctx, req, cfg)
}
