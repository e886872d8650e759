// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"sync"
	"time"
)

// TokenCache stores OAuth tokens acquired for upstream servers, keyed by the
// upstream server ID. Entries persist until Delete or Clear; backends may
// additionally evict expired entries that carry no refresh token, since those
// cannot be renewed anyway.
type TokenCache interface {
	// Get retrieves a cached token. Returns nil with no error when the key
	// is absent.
	Get(ctx context.Context, key string) (*CachedToken, error)

	// Set stores a token under key, replacing any previous entry.
	Set(ctx context.Context, key string, token *CachedToken) error

	// Delete removes the token stored under key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all tokens from the cache.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// CachedToken is one cached OAuth token set.
type CachedToken struct {
	// Token is the access token value.
	Token string `json:"token"`

	// TokenType is the token type, usually "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt is when the access token expires. Zero means unknown.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// RefreshToken is the refresh token, if the provider issued one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scopes are the granted scopes.
	Scopes []string `json:"scopes,omitempty"`
}

// IsExpired reports whether the access token is past its expiry. Tokens with
// an unknown expiry never expire.
func (t *CachedToken) IsExpired() bool {
	if t == nil || t.Token == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

// ShouldRefresh reports whether the token is within offset of its expiry and
// should be renewed ahead of use.
func (t *CachedToken) ShouldRefresh(offset time.Duration) bool {
	if t == nil || t.Token == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt.Add(-offset))
}

// MemoryTokenCache is the default in-process TokenCache. Safe for concurrent
// use; contents die with the process.
type MemoryTokenCache struct {
	mu     sync.RWMutex
	tokens map[string]*CachedToken
}

// NewMemoryTokenCache creates an empty in-memory token cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		tokens: make(map[string]*CachedToken),
	}
}

// Get implements TokenCache. The returned token is a copy; mutating it does
// not affect the cache.
func (c *MemoryTokenCache) Get(_ context.Context, key string) (*CachedToken, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tok, ok := c.tokens[key]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

// Set implements TokenCache.
func (c *MemoryTokenCache) Set(_ context.Context, key string, token *CachedToken) error {
	cp := *token

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = &cp
	return nil
}

// Delete implements TokenCache.
func (c *MemoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
	return nil
}

// Clear implements TokenCache.
func (c *MemoryTokenCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]*CachedToken)
	return nil
}

// Close implements TokenCache.
func (*MemoryTokenCache) Close() error {
	return nil
}
