// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

// Definitions is the YAML definitions file consumed by serve-test and
// validate: upstream server records plus vMCP definitions, referencing
// upstreams by name instead of ID.
type Definitions struct {
	Servers []ServerDef `yaml:"servers"`
	VMCPs   []VMCPDef   `yaml:"vmcps"`
}

// ServerDef describes one upstream MCP server. Token and TokenEnv are
// shorthand for a bearer auth block; Auth takes precedence when set.
type ServerDef struct {
	Name      string                        `yaml:"name"`
	URL       string                        `yaml:"url"`
	Transport string                        `yaml:"transport"`
	Headers   map[string]string             `yaml:"headers"`
	Auth      *authtypes.UpstreamAuthConfig `yaml:"auth"`
	Token     string                        `yaml:"token"`
	TokenEnv  string                        `yaml:"token_env"`
	Disabled  bool                          `yaml:"disabled"`
}

// VMCPDef describes one vMCP, listing its upstreams by server name.
type VMCPDef struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	Upstreams    []string      `yaml:"upstreams"`
	SystemPrompt string        `yaml:"system_prompt"`
	Env          []EnvDef      `yaml:"env"`
	Tools        []ToolDef     `yaml:"tools"`
	Resources    []ResourceDef `yaml:"resources"`
	Prompts      []PromptDef   `yaml:"prompts"`
	Tags         []string      `yaml:"tags"`
}

// EnvDef is one environment binding.
type EnvDef struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Secret bool   `yaml:"secret"`
}

// ToolDef is one custom tool. Exactly one of Prompt, HTTP and Script must be
// set; it selects the kind.
type ToolDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
	Prompt      string         `yaml:"prompt"`
	HTTP        *HTTPDef       `yaml:"http"`
	Script      *ScriptDef     `yaml:"script"`
}

// HTTPDef is the HTTP variant of a custom tool.
type HTTPDef struct {
	Method         string            `yaml:"method"`
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	Body           string            `yaml:"body"`
	ResponseKind   string            `yaml:"response_kind"`
	ResponsePath   string            `yaml:"response_path"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	AuthFrom       string            `yaml:"auth_from_upstream"`
}

// ScriptDef is the script variant of a custom tool.
type ScriptDef struct {
	Language       string   `yaml:"language"`
	Source         string   `yaml:"source"`
	Env            []string `yaml:"env"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// ResourceDef is one custom resource with inline text content.
type ResourceDef struct {
	URI         string `yaml:"uri"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mime_type"`
	Text        string `yaml:"text"`
}

// PromptDef is one custom prompt.
type PromptDef struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Arguments   []ArgumentDef `yaml:"arguments"`
	Body        string        `yaml:"body"`
}

// ArgumentDef is one prompt argument.
type ArgumentDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// LoadDefinitions reads and validates a definitions file. Validation covers
// both YAML-level shape and the domain invariants of the resulting records.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions file: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Validate converts every record and runs the domain validators.
func (d *Definitions) Validate() error {
	names := make(map[string]struct{}, len(d.Servers))
	for i := range d.Servers {
		server := d.Servers[i].Record()
		if err := server.Validate(); err != nil {
			return err
		}
		if _, dup := names[server.Name]; dup {
			return fmt.Errorf("duplicate upstream server name %q", server.Name)
		}
		names[server.Name] = struct{}{}
	}

	vmcpNames := make(map[string]struct{}, len(d.VMCPs))
	for i := range d.VMCPs {
		def, err := d.VMCPs[i].Definition()
		if err != nil {
			return err
		}
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := vmcpNames[def.Name]; dup {
			return fmt.Errorf("duplicate vmcp name %q", def.Name)
		}
		vmcpNames[def.Name] = struct{}{}
		for _, upstream := range d.VMCPs[i].Upstreams {
			if _, ok := names[upstream]; !ok {
				return fmt.Errorf("vmcp %q references unknown upstream %q", def.Name, upstream)
			}
		}
	}
	return nil
}

// Record converts the server definition into the persisted record shape.
// The ID is left empty; registration assigns one.
func (s *ServerDef) Record() vmcp.UpstreamServer {
	transport := s.Transport
	if transport == "" {
		transport = string(vmcp.TransportHTTP)
	}
	server := vmcp.UpstreamServer{
		Name:      s.Name,
		Transport: vmcp.TransportType(transport),
		URL:       s.URL,
		Headers:   s.Headers,
		Enabled:   !s.Disabled,
	}
	switch {
	case s.Auth != nil:
		server.Auth = s.Auth
	case s.Token != "" || s.TokenEnv != "":
		server.Auth = &authtypes.UpstreamAuthConfig{
			Type: authtypes.StrategyTypeBearer,
			Bearer: &authtypes.BearerConfig{
				Token:    s.Token,
				TokenEnv: s.TokenEnv,
			},
		}
	}
	return server
}

// Definition converts the vMCP definition into the domain shape. Upstream
// names still need resolution to IDs after the servers are registered.
func (v *VMCPDef) Definition() (vmcp.VMCP, error) {
	def := vmcp.VMCP{
		Name:         v.Name,
		Description:  v.Description,
		SystemPrompt: v.SystemPrompt,
		Tags:         v.Tags,
	}
	for _, e := range v.Env {
		def.Env = append(def.Env, vmcp.EnvVar{Name: e.Name, Value: e.Value, Secret: e.Secret})
	}
	for i := range v.Tools {
		tool, err := v.Tools[i].Tool()
		if err != nil {
			return vmcp.VMCP{}, fmt.Errorf("vmcp %q: %w", v.Name, err)
		}
		def.Tools = append(def.Tools, tool)
	}
	for _, r := range v.Resources {
		def.Resources = append(def.Resources, vmcp.CustomResource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
			Text:        r.Text,
		})
	}
	for _, p := range v.Prompts {
		prompt := vmcp.CustomPrompt{Name: p.Name, Description: p.Description, Body: p.Body}
		for _, a := range p.Arguments {
			prompt.Arguments = append(prompt.Arguments, vmcp.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		def.Prompts = append(def.Prompts, prompt)
	}
	return def, nil
}

// Tool converts one tool definition, inferring the kind from which variant
// is present.
func (t *ToolDef) Tool() (vmcp.CustomTool, error) {
	tool := vmcp.CustomTool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
	set := 0
	if t.Prompt != "" {
		set++
		tool.Kind = vmcp.CustomToolPrompt
		tool.Prompt = &vmcp.PromptToolDef{Body: t.Prompt}
	}
	if t.HTTP != nil {
		set++
		tool.Kind = vmcp.CustomToolHTTP
		tool.HTTP = &vmcp.HTTPToolDef{
			Method:           t.HTTP.Method,
			URLTemplate:      t.HTTP.URL,
			HeaderTemplates:  t.HTTP.Headers,
			BodyTemplate:     t.HTTP.Body,
			ResponseKind:     vmcp.ResponseKind(t.HTTP.ResponseKind),
			ResponsePath:     t.HTTP.ResponsePath,
			TimeoutSeconds:   t.HTTP.TimeoutSeconds,
			AuthFromUpstream: t.HTTP.AuthFrom,
		}
	}
	if t.Script != nil {
		set++
		tool.Kind = vmcp.CustomToolScript
		tool.Script = &vmcp.ScriptToolDef{
			Language:       t.Script.Language,
			Source:         t.Script.Source,
			Env:            t.Script.Env,
			TimeoutSeconds: t.Script.TimeoutSeconds,
		}
	}
	if set != 1 {
		return vmcp.CustomTool{}, fmt.Errorf("custom tool %q: exactly one of prompt, http and script must be set", t.Name)
	}
	return tool, nil
}
