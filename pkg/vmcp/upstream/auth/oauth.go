// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

const (
	// pendingAuthorizationTTL bounds how long a begun authorization waits
	// for its callback before the state is discarded.
	pendingAuthorizationTTL = 10 * time.Minute

	// refreshOffset is how far before expiry a token is renewed. Covers
	// clock skew and network latency.
	refreshOffset = 30 * time.Second

	// wellKnownAuthServer is the RFC 8414 authorization server metadata path.
	wellKnownAuthServer = "/.well-known/oauth-authorization-server"

	// discoveryMaxResponseSize caps metadata responses to prevent DoS.
	discoveryMaxResponseSize = 1024 * 1024 // 1MB
)

// Flow drives the OAuth 2.0 authorization-code-with-PKCE flow for upstream
// servers and owns the TokenCache consulted by the oauth_pkce strategy.
// Safe for concurrent use.
type Flow struct {
	cache      TokenCache
	httpClient *http.Client

	refresh singleflight.Group

	mu      sync.Mutex
	pending map[string]*pendingAuthorization
}

// pendingAuthorization is one begun authorization awaiting its callback.
type pendingAuthorization struct {
	key       string
	verifier  string
	cfg       *authtypes.OAuthConfig
	createdAt time.Time
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithHTTPClient sets the HTTP client used for token endpoint and discovery
// requests.
func WithHTTPClient(client *http.Client) FlowOption {
	return func(f *Flow) {
		f.httpClient = client
	}
}

// NewFlow creates an OAuth flow over the given token cache.
func NewFlow(cache TokenCache, opts ...FlowOption) *Flow {
	f := &Flow{
		cache: cache,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pending: make(map[string]*pendingAuthorization),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Authorization describes one begun authorization round. The URL is handed to
// the user; the state ties the eventual callback back to this round.
type Authorization struct {
	// URL is the provider authorization URL the user must visit.
	URL string

	// State is the opaque anti-forgery value carried through the round trip.
	State string
}

// BeginAuthorization starts a PKCE authorization round for the upstream
// identified by key. Missing endpoints are discovered from the server's RFC
// 8414 metadata. The returned URL embeds the S256 code challenge; the
// verifier is held server-side until CompleteAuthorization.
func (f *Flow) BeginAuthorization(
	ctx context.Context,
	key, serverURL string,
	cfg *authtypes.OAuthConfig,
) (*Authorization, error) {
	if key == "" {
		return nil, errors.New("authorization key is required")
	}
	if cfg == nil {
		return nil, errors.New("oauth config is required")
	}

	resolved, err := f.resolveEndpoints(ctx, serverURL, cfg)
	if err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	authURL := oauthConfig(resolved).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	f.mu.Lock()
	f.prunePendingLocked()
	f.pending[state] = &pendingAuthorization{
		key:       key,
		verifier:  verifier,
		cfg:       resolved,
		createdAt: time.Now(),
	}
	f.mu.Unlock()

	logger.Infow("began upstream authorization",
		"key", key,
		"authorization_endpoint", resolved.AuthorizationEndpoint,
	)

	return &Authorization{URL: authURL, State: state}, nil
}

// CompleteAuthorization exchanges the callback code for tokens and caches
// them under the key recorded at BeginAuthorization. Returns that key so the
// caller can reconcile session state.
func (f *Flow) CompleteAuthorization(ctx context.Context, state, code string) (string, error) {
	if code == "" {
		return "", errors.New("authorization code is required")
	}

	f.mu.Lock()
	p, ok := f.pending[state]
	if ok {
		delete(f.pending, state)
	}
	f.mu.Unlock()

	if !ok || time.Since(p.createdAt) > pendingAuthorizationTTL {
		return "", errors.New("unknown or expired authorization state")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	tok, err := oauthConfig(p.cfg).Exchange(ctx, code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	cached := cachedTokenFromOAuth2(tok)
	if err := f.cache.Set(ctx, p.key, cached); err != nil {
		return "", fmt.Errorf("failed to cache token: %w", err)
	}

	logger.Infow("completed upstream authorization",
		"key", p.key,
		"has_refresh_token", cached.RefreshToken != "",
	)

	return p.key, nil
}

// AccessToken returns a usable access token for key, renewing it through the
// token endpoint when it is within refreshOffset of expiry. A missing token,
// or a refresh the provider rejects, yields an AuthRequired error.
func (f *Flow) AccessToken(ctx context.Context, key string, cfg *authtypes.OAuthConfig) (*CachedToken, error) {
	tok, err := f.cache.Get(ctx, key)
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "token cache read failed")
	}
	if tok == nil {
		return nil, vmcp.Errorf(vmcp.KindAuthRequired, "no token for upstream; authorization required")
	}
	if !tok.ShouldRefresh(refreshOffset) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		if tok.IsExpired() {
			_ = f.cache.Delete(ctx, key)
			return nil, vmcp.Errorf(vmcp.KindAuthRequired, "token expired and no refresh token; authorization required")
		}
		// Near expiry with nothing to renew it; use while it lasts.
		return tok, nil
	}

	v, err, _ := f.refresh.Do(key, func() (any, error) {
		return f.refreshToken(ctx, key, cfg, tok)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedToken), nil
}

// refreshToken renews tok through the provider's token endpoint. Provider
// rejections wipe the cached token; transport failures keep it so a later
// attempt can retry.
func (f *Flow) refreshToken(
	ctx context.Context,
	key string,
	cfg *authtypes.OAuthConfig,
	tok *CachedToken,
) (*CachedToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	// Expiry is shifted back by the refresh offset so the token source
	// refreshes now instead of waiting for its own expiry delta.
	src := oauthConfig(cfg).TokenSource(ctx, &oauth2.Token{
		AccessToken:  tok.Token,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.ExpiresAt.Add(-refreshOffset),
	})

	fresh, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			_ = f.cache.Delete(ctx, key)
			logger.Warnw("upstream rejected token refresh", "key", key, "status", retrieveErr.Response.StatusCode)
			return nil, vmcp.WrapError(vmcp.KindAuthRequired, err, "token refresh rejected; reauthorization required")
		}
		return nil, vmcp.WrapError(vmcp.KindUpstreamUnavailable, err, "token refresh failed")
	}

	cached := cachedTokenFromOAuth2(fresh)
	if cached.RefreshToken == "" {
		// Providers that do not rotate refresh tokens omit them.
		cached.RefreshToken = tok.RefreshToken
	}
	if err := f.cache.Set(ctx, key, cached); err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "failed to cache refreshed token")
	}

	logger.Debugw("refreshed upstream token", "key", key)
	return cached, nil
}

// ForceRefresh renews the cached token regardless of its expiry. Used when
// an upstream rejects a token that still looks valid locally, which means it
// was revoked server-side.
func (f *Flow) ForceRefresh(ctx context.Context, key string, cfg *authtypes.OAuthConfig) (*CachedToken, error) {
	tok, err := f.cache.Get(ctx, key)
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err, "token cache read failed")
	}
	if tok == nil || tok.RefreshToken == "" {
		_ = f.cache.Delete(ctx, key)
		return nil, vmcp.Errorf(vmcp.KindAuthRequired, "no refreshable token; authorization required")
	}

	v, err, _ := f.refresh.Do(key, func() (any, error) {
		return f.refreshToken(ctx, key, cfg, tok)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedToken), nil
}

// ClearToken drops the cached token for key.
func (f *Flow) ClearToken(ctx context.Context, key string) error {
	return f.cache.Delete(ctx, key)
}

// Close releases the underlying token cache.
func (f *Flow) Close() error {
	return f.cache.Close()
}

// prunePendingLocked drops authorization rounds past their TTL. Caller holds
// f.mu.
func (f *Flow) prunePendingLocked() {
	for state, p := range f.pending {
		if time.Since(p.createdAt) > pendingAuthorizationTTL {
			delete(f.pending, state)
		}
	}
}

// resolveEndpoints fills missing authorization/token endpoints from the
// server's RFC 8414 metadata and returns a fully-populated copy of cfg.
func (f *Flow) resolveEndpoints(
	ctx context.Context,
	serverURL string,
	cfg *authtypes.OAuthConfig,
) (*authtypes.OAuthConfig, error) {
	out := *cfg
	if out.AuthorizationEndpoint != "" && out.TokenEndpoint != "" {
		return &out, nil
	}

	meta, err := f.discoverMetadata(ctx, serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover authorization server metadata: %w", err)
	}

	if out.AuthorizationEndpoint == "" {
		out.AuthorizationEndpoint = meta.AuthorizationEndpoint
	}
	if out.TokenEndpoint == "" {
		out.TokenEndpoint = meta.TokenEndpoint
	}
	if out.AuthorizationEndpoint == "" || out.TokenEndpoint == "" {
		return nil, errors.New("authorization server metadata is missing required endpoints")
	}
	return &out, nil
}

// serverMetadata is the subset of RFC 8414 authorization server metadata
// consumed here.
type serverMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// discoverMetadata fetches RFC 8414 metadata from the origin of serverURL.
func (f *Flow) discoverMetadata(ctx context.Context, serverURL string) (*serverMetadata, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server URL %q has no origin", serverURL)
	}
	discoveryURL := u.Scheme + "://" + u.Host + wellKnownAuthServer

	logger.Debugw("discovering authorization server metadata", "url", discoveryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, discoveryMaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	var meta serverMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse discovery response: %w", err)
	}
	return &meta, nil
}

// oauthConfig maps the stored endpoint config to an oauth2.Config.
func oauthConfig(cfg *authtypes.OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationEndpoint,
			TokenURL: cfg.TokenEndpoint,
		},
	}
}

// cachedTokenFromOAuth2 converts an oauth2.Token into the cache shape.
func cachedTokenFromOAuth2(tok *oauth2.Token) *CachedToken {
	cached := &CachedToken{
		Token:        tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		cached.Scopes = strings.Fields(scope)
	}
	return cached
}

// oauthStrategy authenticates requests with tokens managed by the Flow.
type oauthStrategy struct {
	flow *Flow
}

func (*oauthStrategy) Name() string {
	return authtypes.StrategyTypeOAuthPKCE
}

func (s *oauthStrategy) Authenticate(ctx context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error {
	tok, err := s.flow.AccessToken(ctx, cfg.OAuth.TokenKey, cfg.OAuth)
	if err != nil {
		return err
	}

	typ := tok.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	req.Header.Set("Authorization", typ+" "+tok.Token)
	return nil
}

func (*oauthStrategy) Validate(cfg *authtypes.UpstreamAuthConfig) error {
	if cfg == nil || cfg.OAuth == nil {
		return errors.New("oauth config required")
	}
	if err := cfg.OAuth.Validate(); err != nil {
		return err
	}
	if cfg.OAuth.TokenKey == "" {
		return errors.New("oauth token key not populated")
	}
	return nil
}
