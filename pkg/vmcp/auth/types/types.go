// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package types provides shared auth-related types for vmcpd.
//
// This package is designed as a leaf package with no dependencies on other
// pkg/vmcp/* packages, breaking potential import cycles between the domain
// root, the auth strategies, and the store.
//
// Types defined here include:
//   - Strategy type constants (StrategyTypeNone, StrategyTypeBearer, etc.)
//   - Upstream auth configuration structs (UpstreamAuthConfig, etc.)
package types

import (
	"fmt"
	"time"
)

// Strategy type identifiers used to identify authentication strategies.
const (
	// StrategyTypeNone identifies the unauthenticated strategy. It performs
	// no authentication and is used when an upstream requires none.
	StrategyTypeNone = "none"

	// StrategyTypeBearer identifies the bearer token strategy. It sets
	// an Authorization: Bearer header on every outbound request.
	StrategyTypeBearer = "bearer"

	// StrategyTypeAPIKey identifies the API key strategy. It injects a
	// single configured header carrying the key.
	StrategyTypeAPIKey = "api_key"

	// StrategyTypeBasic identifies the HTTP basic credentials strategy.
	StrategyTypeBasic = "basic"

	// StrategyTypeHeaderSet identifies the custom header set strategy.
	// It injects an arbitrary set of static headers.
	StrategyTypeHeaderSet = "header_set"

	// StrategyTypeOAuthPKCE identifies the OAuth 2.0 authorization-code
	// with PKCE strategy. Tokens are acquired interactively and refreshed
	// automatically; a 401 after a failed refresh surfaces an
	// authorization URL to the caller.
	StrategyTypeOAuthPKCE = "oauth_pkce"
)

// UpstreamAuthConfig defines how to authenticate to a specific upstream server.
//
// Exactly one of the strategy-specific fields must be populated, matching Type.
type UpstreamAuthConfig struct {
	// Type is the auth strategy: "none", "bearer", "api_key", "basic",
	// "header_set" or "oauth_pkce".
	Type string `json:"type" yaml:"type"`

	// Bearer configures the bearer token strategy. Used when Type = "bearer".
	Bearer *BearerConfig `json:"bearer,omitempty" yaml:"bearer,omitempty"`

	// APIKey configures the API key header strategy. Used when Type = "api_key".
	APIKey *APIKeyConfig `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Basic configures the HTTP basic strategy. Used when Type = "basic".
	Basic *BasicConfig `json:"basic,omitempty" yaml:"basic,omitempty"`

	// HeaderSet configures the custom header set strategy. Used when Type = "header_set".
	HeaderSet *HeaderSetConfig `json:"header_set,omitempty" yaml:"header_set,omitempty"`

	// OAuth configures the OAuth PKCE strategy. Used when Type = "oauth_pkce".
	OAuth *OAuthConfig `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// Validate checks that the strategy type is known and that exactly the
// matching strategy config is populated.
func (c *UpstreamAuthConfig) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Type {
	case "", StrategyTypeNone:
		return nil
	case StrategyTypeBearer:
		if c.Bearer == nil || (c.Bearer.Token == "" && c.Bearer.TokenEnv == "") {
			return fmt.Errorf("bearer auth requires a token or token_env")
		}
	case StrategyTypeAPIKey:
		if c.APIKey == nil || c.APIKey.HeaderName == "" {
			return fmt.Errorf("api_key auth requires a header name")
		}
		if c.APIKey.Key == "" && c.APIKey.KeyEnv == "" {
			return fmt.Errorf("api_key auth requires a key or key_env")
		}
	case StrategyTypeBasic:
		if c.Basic == nil || c.Basic.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
	case StrategyTypeHeaderSet:
		if c.HeaderSet == nil || len(c.HeaderSet.Headers) == 0 {
			return fmt.Errorf("header_set auth requires at least one header")
		}
	case StrategyTypeOAuthPKCE:
		if c.OAuth == nil {
			return fmt.Errorf("oauth_pkce auth requires an oauth config")
		}
		return c.OAuth.Validate()
	default:
		return fmt.Errorf("unknown auth strategy type %q", c.Type)
	}
	return nil
}

// StrategyType returns the effective strategy type, treating an empty
// string and a nil config as "none".
func (c *UpstreamAuthConfig) StrategyType() string {
	if c == nil || c.Type == "" {
		return StrategyTypeNone
	}
	return c.Type
}

// BearerConfig configures the bearer token strategy.
type BearerConfig struct {
	// Token is the static bearer token.
	// Either Token or TokenEnv should be set, not both.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// TokenEnv is the environment variable name containing the token.
	// The value is resolved at request time from the invocation environment.
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env,omitempty"`
}

// APIKeyConfig configures the API key header strategy.
type APIKeyConfig struct {
	// HeaderName is the name of the header carrying the key (e.g. "X-Api-Key").
	HeaderName string `json:"header_name" yaml:"header_name"`

	// Key is the static key value.
	// Either Key or KeyEnv should be set, not both.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// KeyEnv is the environment variable name containing the key.
	KeyEnv string `json:"key_env,omitempty" yaml:"key_env,omitempty"`
}

// BasicConfig configures the HTTP basic credentials strategy.
type BasicConfig struct {
	// Username is the basic auth username.
	Username string `json:"username" yaml:"username"`

	// Password is the static password.
	// Either Password or PasswordEnv should be set, not both.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PasswordEnv is the environment variable name containing the password.
	PasswordEnv string `json:"password_env,omitempty" yaml:"password_env,omitempty"`
}

// HeaderSetConfig configures the custom header set strategy.
type HeaderSetConfig struct {
	// Headers maps header names to static values injected on every request.
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// OAuthConfig configures the OAuth 2.0 authorization-code-with-PKCE strategy.
type OAuthConfig struct {
	// AuthorizationEndpoint is the provider's authorization URL. If empty it
	// is discovered from the protected resource metadata on first challenge.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty" yaml:"authorization_endpoint,omitempty"`

	// TokenEndpoint is the provider's token URL.
	TokenEndpoint string `json:"token_endpoint,omitempty" yaml:"token_endpoint,omitempty"`

	// ClientID is the OAuth client ID.
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`

	// ClientSecret is the OAuth client secret. Public PKCE clients leave it empty.
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	// Scopes are the scopes requested during authorization.
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	// RedirectURL is the callback URL registered with the provider.
	RedirectURL string `json:"redirect_url,omitempty" yaml:"redirect_url,omitempty"`

	// TokenKey scopes cached tokens for this binding, normally the upstream
	// server ID. It is populated at session build time and never serialized.
	TokenKey string `json:"-" yaml:"-"`
}

// Validate checks an OAuth config for the minimum fields needed to run
// the authorization-code flow.
func (c *OAuthConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("oauth_pkce auth requires a client_id")
	}
	return nil
}

// TokenState holds the tokens obtained from an OAuth flow for one upstream.
// It is persisted alongside the auth config and mirrored in the token cache.
type TokenState struct {
	// AccessToken is the current access token.
	AccessToken string `json:"access_token"`

	// TokenType is the token type, usually "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is the refresh token, if the provider issued one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token expiry. Zero means unknown.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scopes are the granted scopes.
	Scopes []string `json:"scopes,omitempty"`
}

// Expired reports whether the access token is past its expiry. Tokens with
// an unknown expiry are treated as valid.
func (t *TokenState) Expired() bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}
