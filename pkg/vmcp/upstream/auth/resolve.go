// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"

	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

// EnvLookup resolves an environment variable name to its value. The second
// return reports whether the variable is defined at all, mirroring
// os.LookupEnv.
type EnvLookup func(name string) (string, bool)

// ResolveSecrets returns a copy of cfg with environment-indirect secret
// fields (token_env, key_env, password_env) materialized through lookup.
// Literal values take precedence over their _env counterparts. A referenced
// variable that is not defined is an error naming the variable, never its
// value.
//
// Sessions resolve against the process environment at connect time; HTTP
// custom tools resolve against the invocation environment per request.
func ResolveSecrets(cfg *authtypes.UpstreamAuthConfig, lookup EnvLookup) (*authtypes.UpstreamAuthConfig, error) {
	if cfg == nil {
		return nil, nil
	}

	out := *cfg

	if cfg.Bearer != nil {
		b := *cfg.Bearer
		if b.Token == "" && b.TokenEnv != "" {
			v, ok := lookup(b.TokenEnv)
			if !ok {
				return nil, fmt.Errorf("bearer token_env %q is not set", b.TokenEnv)
			}
			b.Token = v
		}
		out.Bearer = &b
	}

	if cfg.APIKey != nil {
		k := *cfg.APIKey
		if k.Key == "" && k.KeyEnv != "" {
			v, ok := lookup(k.KeyEnv)
			if !ok {
				return nil, fmt.Errorf("api_key key_env %q is not set", k.KeyEnv)
			}
			k.Key = v
		}
		out.APIKey = &k
	}

	if cfg.Basic != nil {
		b := *cfg.Basic
		if b.Password == "" && b.PasswordEnv != "" {
			v, ok := lookup(b.PasswordEnv)
			if !ok {
				return nil, fmt.Errorf("basic password_env %q is not set", b.PasswordEnv)
			}
			b.Password = v
		}
		out.Basic = &b
	}

	if cfg.HeaderSet != nil {
		h := *cfg.HeaderSet
		h.Headers = make(map[string]string, len(cfg.HeaderSet.Headers))
		for name, value := range cfg.HeaderSet.Headers {
			h.Headers[name] = value
		}
		out.HeaderSet = &h
	}

	if cfg.OAuth != nil {
		o := *cfg.OAuth
		out.OAuth = &o
	}

	return &out, nil
}
