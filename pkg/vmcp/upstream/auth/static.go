// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"

	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

// noneStrategy performs no authentication. Unlike a nil strategy it makes the
// intent explicit: this upstream intentionally has none.
type noneStrategy struct{}

func (*noneStrategy) Name() string {
	return authtypes.StrategyTypeNone
}

func (*noneStrategy) Authenticate(_ context.Context, _ *http.Request, _ *authtypes.UpstreamAuthConfig) error {
	return nil
}

func (*noneStrategy) Validate(_ *authtypes.UpstreamAuthConfig) error {
	return nil
}

// bearerStrategy sets an Authorization: Bearer header from a static token.
type bearerStrategy struct{}

func (*bearerStrategy) Name() string {
	return authtypes.StrategyTypeBearer
}

func (*bearerStrategy) Authenticate(_ context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error {
	req.Header.Set("Authorization", "Bearer "+cfg.Bearer.Token)
	return nil
}

func (*bearerStrategy) Validate(cfg *authtypes.UpstreamAuthConfig) error {
	if cfg == nil || cfg.Bearer == nil {
		return errors.New("bearer config required")
	}
	if cfg.Bearer.Token == "" {
		return errors.New("bearer token is empty; was token_env resolved?")
	}
	return nil
}

// apiKeyStrategy injects a single configured header carrying an API key.
type apiKeyStrategy struct{}

func (*apiKeyStrategy) Name() string {
	return authtypes.StrategyTypeAPIKey
}

func (*apiKeyStrategy) Authenticate(_ context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error {
	req.Header.Set(cfg.APIKey.HeaderName, cfg.APIKey.Key)
	return nil
}

func (*apiKeyStrategy) Validate(cfg *authtypes.UpstreamAuthConfig) error {
	if cfg == nil || cfg.APIKey == nil {
		return errors.New("api_key config required")
	}
	if err := validateHeaderName(cfg.APIKey.HeaderName); err != nil {
		return err
	}
	if cfg.APIKey.Key == "" {
		return errors.New("api key is empty; was key_env resolved?")
	}
	return nil
}

// basicStrategy sets HTTP basic credentials on the request.
type basicStrategy struct{}

func (*basicStrategy) Name() string {
	return authtypes.StrategyTypeBasic
}

func (*basicStrategy) Authenticate(_ context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error {
	req.SetBasicAuth(cfg.Basic.Username, cfg.Basic.Password)
	return nil
}

func (*basicStrategy) Validate(cfg *authtypes.UpstreamAuthConfig) error {
	if cfg == nil || cfg.Basic == nil {
		return errors.New("basic config required")
	}
	if cfg.Basic.Username == "" {
		return errors.New("basic auth username is empty")
	}
	return nil
}

// headerSetStrategy injects an arbitrary set of static headers.
type headerSetStrategy struct{}

func (*headerSetStrategy) Name() string {
	return authtypes.StrategyTypeHeaderSet
}

func (*headerSetStrategy) Authenticate(_ context.Context, req *http.Request, cfg *authtypes.UpstreamAuthConfig) error {
	for name, value := range cfg.HeaderSet.Headers {
		req.Header.Set(name, value)
	}
	return nil
}

func (*headerSetStrategy) Validate(cfg *authtypes.UpstreamAuthConfig) error {
	if cfg == nil || cfg.HeaderSet == nil || len(cfg.HeaderSet.Headers) == 0 {
		return errors.New("header_set config requires at least one header")
	}
	for name := range cfg.HeaderSet.Headers {
		if err := validateHeaderName(name); err != nil {
			return err
		}
	}
	return nil
}

// validateHeaderName rejects header names that could smuggle extra headers
// or header values (CRLF injection).
func validateHeaderName(name string) error {
	if name == "" {
		return errors.New("header name cannot be empty")
	}
	if strings.ContainsAny(name, " \t\r\n:") {
		return fmt.Errorf("invalid header name %q", name)
	}
	if textproto.CanonicalMIMEHeaderKey(name) == "" {
		return fmt.Errorf("invalid header name %q", name)
	}
	return nil
}
