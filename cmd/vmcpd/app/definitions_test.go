// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

func writeDefinitions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefinitions(t *testing.T) {
	t.Parallel()

	path := writeDefinitions(t, `
servers:
  - name: github
    url: https://mcp.example.com/github
    token_env: GITHUB_TOKEN
  - name: weather
    url: https://mcp.example.com/weather
    transport: sse
    headers:
      X-Region: eu
vmcps:
  - name: assistant
    description: Everyday helper
    upstreams: [github, weather]
    system_prompt: "You are based in @config.REGION."
    env:
      - name: REGION
        value: eu-west-1
      - name: API_KEY
        value: hunter2
        secret: true
    tools:
      - name: greet
        description: Render a greeting
        prompt: "Hello @tool.name"
      - name: lookup
        http:
          method: GET
          url: "https://api.example.com/v1/@tool.id"
          response_kind: json
          response_path: data.value
      - name: transform
        script:
          language: javascript
          source: "output(input())"
          timeout_seconds: 5
    resources:
      - uri: doc://policy
        name: policy
        text: Be nice.
    prompts:
      - name: summarize
        body: "Summarize @arg.text"
        arguments:
          - name: text
            required: true
`)

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs.Servers, 2)
	require.Len(t, defs.VMCPs, 1)

	github := defs.Servers[0].Record()
	assert.Equal(t, vmcp.TransportHTTP, github.Transport)
	assert.True(t, github.Enabled)
	require.NotNil(t, github.Auth)
	assert.Equal(t, authtypes.StrategyTypeBearer, github.Auth.Type)
	assert.Equal(t, "GITHUB_TOKEN", github.Auth.Bearer.TokenEnv)

	weather := defs.Servers[1].Record()
	assert.Equal(t, vmcp.TransportSSE, weather.Transport)
	assert.Equal(t, "eu", weather.Headers["X-Region"])
	assert.Nil(t, weather.Auth)

	def, err := defs.VMCPs[0].Definition()
	require.NoError(t, err)
	assert.Equal(t, "assistant", def.Name)
	require.Len(t, def.Env, 2)
	assert.True(t, def.Env[1].Secret)
	require.Len(t, def.Tools, 3)
	assert.Equal(t, vmcp.CustomToolPrompt, def.Tools[0].Kind)
	assert.Equal(t, vmcp.CustomToolHTTP, def.Tools[1].Kind)
	assert.Equal(t, "data.value", def.Tools[1].HTTP.ResponsePath)
	assert.Equal(t, vmcp.CustomToolScript, def.Tools[2].Kind)
	require.Len(t, def.Resources, 1)
	require.Len(t, def.Prompts, 1)
	assert.True(t, def.Prompts[0].Arguments[0].Required)
}

func TestLoadDefinitionsAuthBlockWins(t *testing.T) {
	t.Parallel()

	path := writeDefinitions(t, `
servers:
  - name: api
    url: https://mcp.example.com/api
    token: shorthand
    auth:
      type: api_key
      api_key:
        header_name: X-Api-Key
        key_env: API_KEY
`)
	defs, err := LoadDefinitions(path)
	require.NoError(t, err)

	record := defs.Servers[0].Record()
	require.NotNil(t, record.Auth)
	assert.Equal(t, authtypes.StrategyTypeAPIKey, record.Auth.Type)
	assert.Nil(t, record.Auth.Bearer)
}

func TestLoadDefinitionsRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "Duplicate server name",
			content: `
servers:
  - {name: a, url: "https://x.example.com"}
  - {name: a, url: "https://y.example.com"}
`,
			wantErr: "duplicate upstream server name",
		},
		{
			name: "Unknown upstream reference",
			content: `
servers:
  - {name: a, url: "https://x.example.com"}
vmcps:
  - name: v
    upstreams: [missing]
`,
			wantErr: "unknown upstream",
		},
		{
			name: "Tool with no variant",
			content: `
servers:
  - {name: a, url: "https://x.example.com"}
vmcps:
  - name: v
    upstreams: [a]
    tools:
      - name: broken
        description: no variant set
`,
			wantErr: "exactly one of prompt, http and script",
		},
		{
			name: "Tool with two variants",
			content: `
servers:
  - {name: a, url: "https://x.example.com"}
vmcps:
  - name: v
    upstreams: [a]
    tools:
      - name: broken
        prompt: "hi"
        script: {language: javascript, source: "1"}
`,
			wantErr: "exactly one of prompt, http and script",
		},
		{
			name: "Duplicate vmcp name",
			content: `
servers:
  - {name: a, url: "https://x.example.com"}
vmcps:
  - {name: v, upstreams: [a]}
  - {name: v, upstreams: [a]}
`,
			wantErr: "duplicate vmcp name",
		},
		{
			name:    "Unparseable YAML",
			content: "servers: [unterminated",
			wantErr: "parse definitions file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadDefinitions(writeDefinitions(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefinitionsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read definitions file")
}
