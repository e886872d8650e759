// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package vmcp

import (
	"fmt"
	"regexp"
	"time"

	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

// This file contains shared domain types used across the vmcp subpackages.
// They live at the package root so sessions, cache, composer, engines and
// store can share them without import cycles.

// TransportType identifies the wire transport used to reach an upstream
// MCP server.
type TransportType string

const (
	// TransportHTTP is request/response JSON-RPC over HTTP (streamable HTTP).
	// There is no server-initiated stream on this transport.
	TransportHTTP TransportType = "http"

	// TransportSSE is a long-lived event stream for server-to-client
	// messages with a separate HTTP POST channel for client-to-server.
	TransportSSE TransportType = "sse"
)

// ParseTransport converts a string to a TransportType.
func ParseTransport(s string) (TransportType, error) {
	switch TransportType(s) {
	case TransportHTTP, TransportSSE:
		return TransportType(s), nil
	default:
		return "", fmt.Errorf("unknown transport %q", s)
	}
}

// SessionState is the lifecycle state of one upstream session.
type SessionState string

const (
	// StateIdle means the session has never been connected.
	StateIdle SessionState = "idle"

	// StateConnecting means a connection attempt is in flight.
	StateConnecting SessionState = "connecting"

	// StateConnected means the session completed the MCP handshake and
	// can serve operations.
	StateConnected SessionState = "connected"

	// StateDisconnected means the channel was torn down deliberately.
	StateDisconnected SessionState = "disconnected"

	// StateAuthRequired means the upstream rejected our credentials and a
	// new authorization grant is needed before operations can succeed.
	StateAuthRequired SessionState = "auth_required"

	// StateError means the channel failed; last_error carries the cause.
	StateError SessionState = "error"
)

// Terminal reports whether the state permits a new connect attempt.
// Connecting and connected sessions are not terminal.
func (s SessionState) Terminal() bool {
	switch s {
	case StateIdle, StateDisconnected, StateAuthRequired, StateError:
		return true
	default:
		return false
	}
}

// Persistable maps the runtime state onto the persisted status set.
// Transient states (idle, connecting) persist as disconnected.
func (s SessionState) Persistable() SessionState {
	switch s {
	case StateConnected, StateDisconnected, StateAuthRequired, StateError:
		return s
	default:
		return StateDisconnected
	}
}

// nameRe constrains upstream server and vMCP names. Names appear in URL
// path segments, collision suffixes and log fields, so they exclude "@",
// "/" and whitespace.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that a name is usable as an upstream server or vMCP
// identifier: lowercase alphanumerics, "_" and "-", at most 64 characters,
// starting with an alphanumeric.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid name %q: must match %s", name, nameRe.String())
	}
	return nil
}

// UpstreamServer is the persisted record for one upstream MCP server.
type UpstreamServer struct {
	// ID is the stable unique identifier.
	ID string

	// Name is the unique human-facing name. It is used in collision
	// suffixes ("tool@name") and usage logs.
	Name string

	// Transport selects the wire transport.
	Transport TransportType

	// URL is the endpoint URL of the upstream's MCP surface.
	URL string

	// Headers are optional static headers sent on every request.
	Headers map[string]string

	// Auth is the authentication policy. Nil means unauthenticated.
	Auth *authtypes.UpstreamAuthConfig

	// Enabled gates whether sessions may be opened to this server.
	Enabled bool

	// Status is the last known session state (persisted subset).
	Status SessionState

	// LastError is the most recent connection or protocol error, if any.
	LastError string

	// LastCapabilitiesUpdate is when capabilities were last discovered.
	LastCapabilitiesUpdate time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the record for storability.
func (s *UpstreamServer) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.URL == "" {
		return fmt.Errorf("upstream server %q: url is required", s.Name)
	}
	if _, err := ParseTransport(string(s.Transport)); err != nil {
		return fmt.Errorf("upstream server %q: %w", s.Name, err)
	}
	if err := s.Auth.Validate(); err != nil {
		return fmt.Errorf("upstream server %q: %w", s.Name, err)
	}
	return nil
}

// Tool describes an MCP tool exposed by an upstream or defined locally.
type Tool struct {
	// Name is the tool name, local to its origin before composition.
	Name string

	// Description describes what the tool does.
	Description string

	// InputSchema is the JSON-Schema-shaped parameter schema.
	InputSchema map[string]any

	// OutputSchema is the JSON Schema for tool output (optional).
	OutputSchema map[string]any

	// ServerName is the owning upstream's name. Empty for custom tools.
	ServerName string
}

// Resource describes an MCP resource.
type Resource struct {
	// URI is the resource URI, local to its origin before composition.
	URI string

	// Name is a human-readable name.
	Name string

	// Description describes the resource.
	Description string

	// MimeType is the resource's MIME type (optional).
	MimeType string

	// ServerName is the owning upstream's name. Empty for custom resources.
	ServerName string
}

// ResourceTemplate describes a parameterized MCP resource.
type ResourceTemplate struct {
	// URITemplate is the RFC 6570 URI template.
	URITemplate string

	// Name is a human-readable name.
	Name string

	// Description describes the template.
	Description string

	// MimeType is the MIME type of produced resources (optional).
	MimeType string

	// ServerName is the owning upstream's name.
	ServerName string
}

// Prompt describes an MCP prompt.
type Prompt struct {
	// Name is the prompt name, local to its origin before composition.
	Name string

	// Description describes the prompt.
	Description string

	// Arguments are the prompt parameters.
	Arguments []PromptArgument

	// ServerName is the owning upstream's name. Empty for custom prompts.
	ServerName string
}

// PromptArgument represents a prompt parameter.
type PromptArgument struct {
	// Name is the argument name.
	Name string

	// Description describes the argument.
	Description string

	// Required indicates if the argument is mandatory.
	Required bool
}

// ServerInfo identifies an upstream MCP server implementation as reported
// during the handshake.
type ServerInfo struct {
	Name    string
	Version string
}

// CapabilitySnapshot is a point-in-time view of one upstream's capabilities.
// A snapshot is atomically replaced, never partially mutated. A capability
// kind the upstream does not support is recorded as an empty (non-nil)
// slice, distinguishing "none" from "not yet discovered".
type CapabilitySnapshot struct {
	// ServerID is the owning upstream server's ID.
	ServerID string

	// ServerName is the owning upstream server's name.
	ServerName string

	// ServerInfo is the implementation reported at initialize time.
	ServerInfo ServerInfo

	// ProtocolVersion is the negotiated MCP protocol version.
	ProtocolVersion string

	// Tools is the ordered tool list.
	Tools []Tool

	// Resources is the ordered resource list.
	Resources []Resource

	// ResourceTemplates is the ordered resource template list.
	ResourceTemplates []ResourceTemplate

	// Prompts is the ordered prompt list.
	Prompts []Prompt

	// DiscoveredAt is when this snapshot was fetched.
	DiscoveredAt time.Time
}

// Content represents one MCP content item (text, image, audio, embedded
// resource). It is transport-neutral so results can cross component
// boundaries without dragging protocol types along.
type Content struct {
	// Type indicates the content type: "text", "image", "audio", "resource".
	Type string

	// Text is the content text (for text content).
	Text string

	// Data is the base64-encoded payload (for image/audio content).
	Data string

	// MimeType is the MIME type (for image/audio/resource content).
	MimeType string

	// URI is the resource URI (for embedded resources).
	URI string
}

// ToolCallResult wraps a tool call response.
type ToolCallResult struct {
	// Content is the ordered list of content items returned by the tool.
	Content []Content

	// StructuredContent is structured output, if the tool provided any.
	StructuredContent map[string]any

	// IsError indicates the tool itself reported failure.
	IsError bool

	// Meta carries protocol-level metadata (_meta) from the origin.
	Meta map[string]any
}

// ResourceContents is one contents item of a resource read.
type ResourceContents struct {
	// URI is the URI of this contents item.
	URI string

	// MimeType is the content type.
	MimeType string

	// Text is the text payload, for text resources.
	Text string

	// Blob is the binary payload, for non-text resources.
	Blob []byte
}

// ResourceReadResult wraps a resource read response.
type ResourceReadResult struct {
	// Contents is the ordered contents list.
	Contents []ResourceContents

	// Meta carries protocol-level metadata (_meta) from the origin.
	Meta map[string]any
}

// PromptMessage is one message of a prompt rendering.
type PromptMessage struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the message content.
	Content Content
}

// PromptGetResult wraps a prompt rendering response.
type PromptGetResult struct {
	// Description is an optional description of the prompt.
	Description string

	// Messages is the ordered message list.
	Messages []PromptMessage

	// Meta carries protocol-level metadata (_meta) from the origin.
	Meta map[string]any
}

// EnvVar is one vMCP environment variable. Secret values are redacted from
// error details and usage logs.
type EnvVar struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Secret bool   `json:"secret,omitempty"`
}

// CustomToolKind discriminates the custom tool union.
type CustomToolKind string

const (
	// CustomToolScript runs a source text in an interpreter subprocess.
	CustomToolScript CustomToolKind = "script"

	// CustomToolHTTP issues a templated HTTP request.
	CustomToolHTTP CustomToolKind = "http"

	// CustomToolPrompt renders a templated text body.
	CustomToolPrompt CustomToolKind = "prompt"
)

// CustomTool is a locally defined tool attached to a vMCP. Exactly one of
// Script, HTTP and Prompt is set, matching Kind.
type CustomTool struct {
	// Name is the exposed tool name.
	Name string `json:"name"`

	// Description describes the tool for clients.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema map[string]any `json:"input_schema,omitempty"`

	// Kind selects the engine: script, http or prompt.
	Kind CustomToolKind `json:"kind"`

	// Script holds the script variant definition.
	Script *ScriptToolDef `json:"script,omitempty"`

	// HTTP holds the HTTP variant definition.
	HTTP *HTTPToolDef `json:"http,omitempty"`

	// Prompt holds the prompt variant definition.
	Prompt *PromptToolDef `json:"prompt,omitempty"`
}

// Validate checks the union invariant and per-variant requirements.
func (t *CustomTool) Validate() error {
	if err := ValidateName(t.Name); err != nil {
		return fmt.Errorf("custom tool: %w", err)
	}
	switch t.Kind {
	case CustomToolScript:
		if t.Script == nil || t.Script.Source == "" {
			return fmt.Errorf("custom tool %q: script source is required", t.Name)
		}
		if t.Script.Language != "" && t.Script.Language != "python" {
			return fmt.Errorf("custom tool %q: unsupported script language %q", t.Name, t.Script.Language)
		}
	case CustomToolHTTP:
		if t.HTTP == nil || t.HTTP.URLTemplate == "" {
			return fmt.Errorf("custom tool %q: http url template is required", t.Name)
		}
		if err := t.HTTP.Auth.Validate(); err != nil {
			return fmt.Errorf("custom tool %q: %w", t.Name, err)
		}
		switch t.HTTP.ResponseKind {
		case "", ResponseJSON, ResponseText, ResponseBinary:
		default:
			return fmt.Errorf("custom tool %q: unknown response kind %q", t.Name, t.HTTP.ResponseKind)
		}
	case CustomToolPrompt:
		if t.Prompt == nil || t.Prompt.Body == "" {
			return fmt.Errorf("custom tool %q: prompt body is required", t.Name)
		}
	default:
		return fmt.Errorf("custom tool %q: unknown kind %q", t.Name, t.Kind)
	}
	return nil
}

// Descriptor converts the custom tool into a Tool descriptor for listing.
func (t *CustomTool) Descriptor() Tool {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// ScriptToolDef defines the script variant of a custom tool.
type ScriptToolDef struct {
	// Language is the interpreter language. Only "python" is supported.
	Language string `json:"language,omitempty"`

	// Source is the script text. Arguments are injected as a JSON object
	// bound to a well-known variable before execution.
	Source string `json:"source"`

	// Env lists the vMCP environment variable names the script may read.
	Env []string `json:"env,omitempty"`

	// TimeoutSeconds bounds wall-clock execution. Zero means the engine
	// default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// AllowNetwork opts the subprocess into network access where the
	// deployment permits it.
	AllowNetwork bool `json:"allow_network,omitempty"`
}

// ResponseKind selects how an HTTP tool's response body is interpreted.
type ResponseKind string

const (
	// ResponseJSON parses the body as JSON and returns it structured.
	ResponseJSON ResponseKind = "json"

	// ResponseText returns the body as a text content item.
	ResponseText ResponseKind = "text"

	// ResponseBinary wraps the body bytes into a binary content item.
	ResponseBinary ResponseKind = "binary"
)

// HTTPToolDef defines the HTTP variant of a custom tool. Method, URL,
// headers and body are rendered through the template engine and may embed
// expression forms.
type HTTPToolDef struct {
	// Method is the HTTP method. Defaults to GET.
	Method string `json:"method,omitempty"`

	// URLTemplate is the templated request URL.
	URLTemplate string `json:"url_template"`

	// HeaderTemplates maps header names to templated values.
	HeaderTemplates map[string]string `json:"header_templates,omitempty"`

	// BodyTemplate is the templated request body. Empty sends no body.
	BodyTemplate string `json:"body_template,omitempty"`

	// Auth is the auth binding applied to the request. Nil means none.
	Auth *authtypes.UpstreamAuthConfig `json:"auth,omitempty"`

	// AuthFromUpstream borrows the named upstream server's auth (including
	// OAuth tokens) instead of Auth. Takes precedence over Auth when set.
	AuthFromUpstream string `json:"auth_from_upstream,omitempty"`

	// ResponseKind selects result mapping. Defaults to text.
	ResponseKind ResponseKind `json:"response_kind,omitempty"`

	// ResponsePath optionally narrows a json response to one GJSON path
	// before mapping.
	ResponsePath string `json:"response_path,omitempty"`

	// TimeoutSeconds bounds the total request. Zero means the engine
	// default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// PromptToolDef defines the prompt variant of a custom tool.
type PromptToolDef struct {
	// Body is the templated text rendered on invocation.
	Body string `json:"body"`
}

// CustomResource is a locally served resource attached to a vMCP. Content
// is either inline (Text or Blob) or referenced from the blob store.
type CustomResource struct {
	// URI is the exposed resource URI.
	URI string `json:"uri"`

	// Name is the alias used by the @resource.NAME expression form and the
	// human-readable name in listings.
	Name string `json:"name"`

	// Description describes the resource.
	Description string `json:"description,omitempty"`

	// MimeType is the content type.
	MimeType string `json:"mime_type,omitempty"`

	// Text is inline text content.
	Text string `json:"text,omitempty"`

	// Blob is inline binary content.
	Blob []byte `json:"blob,omitempty"`

	// BlobID references stored content. Takes precedence over inline
	// content when set.
	BlobID string `json:"blob_id,omitempty"`
}

// CustomPrompt is a locally defined prompt attached to a vMCP. Its body is
// rendered through the template engine on prompts/get.
type CustomPrompt struct {
	// Name is the exposed prompt name.
	Name string `json:"name"`

	// Description describes the prompt.
	Description string `json:"description,omitempty"`

	// Arguments are the prompt parameters.
	Arguments []PromptArgument `json:"arguments,omitempty"`

	// Body is the templated prompt text.
	Body string `json:"body"`
}

// VMCP is the persisted definition of one virtual MCP server.
type VMCP struct {
	// ID is the stable unique identifier.
	ID string

	// Name is the unique name; it appears in the serving path
	// /private/{name}/vmcp.
	Name string

	// Description describes the vMCP.
	Description string

	// Upstreams is the ordered list of upstream server IDs composed into
	// this vMCP. Order determines listing order and collision precedence.
	Upstreams []string

	// Tools is the ordered list of custom tools.
	Tools []CustomTool

	// Resources is the ordered list of custom resources.
	Resources []CustomResource

	// Prompts is the ordered list of custom prompts.
	Prompts []CustomPrompt

	// SystemPrompt is a templated text rendered locally on request. Empty
	// renders as the empty string.
	SystemPrompt string

	// Env is the vMCP environment variable set.
	Env []EnvVar

	// IsPublic marks the vMCP as shared.
	IsPublic bool

	// Tags are freeform labels.
	Tags []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the definition for storability and unique custom names.
func (v *VMCP) Validate() error {
	if err := ValidateName(v.Name); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(v.Tools))
	for i := range v.Tools {
		t := &v.Tools[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("vmcp %q: %w", v.Name, err)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("vmcp %q: duplicate custom tool name %q", v.Name, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	seenPrompts := make(map[string]struct{}, len(v.Prompts))
	for i := range v.Prompts {
		p := &v.Prompts[i]
		if p.Name == "" || p.Body == "" {
			return fmt.Errorf("vmcp %q: custom prompt needs a name and body", v.Name)
		}
		if _, dup := seenPrompts[p.Name]; dup {
			return fmt.Errorf("vmcp %q: duplicate custom prompt name %q", v.Name, p.Name)
		}
		seenPrompts[p.Name] = struct{}{}
	}
	seenURIs := make(map[string]struct{}, len(v.Resources))
	for i := range v.Resources {
		r := &v.Resources[i]
		if r.URI == "" {
			return fmt.Errorf("vmcp %q: custom resource needs a uri", v.Name)
		}
		if _, dup := seenURIs[r.URI]; dup {
			return fmt.Errorf("vmcp %q: duplicate custom resource uri %q", v.Name, r.URI)
		}
		seenURIs[r.URI] = struct{}{}
	}
	return nil
}

// EnvMap returns the environment as a name-to-value map.
func (v *VMCP) EnvMap() map[string]string {
	m := make(map[string]string, len(v.Env))
	for _, e := range v.Env {
		m[e.Name] = e.Value
	}
	return m
}

// SecretEnvNames returns the names of variables flagged secret.
func (v *VMCP) SecretEnvNames() []string {
	var names []string
	for _, e := range v.Env {
		if e.Secret {
			names = append(names, e.Name)
		}
	}
	return names
}

// UsageEntry is one append-only usage log row, written per inbound request.
type UsageEntry struct {
	// ID is assigned by the store.
	ID int64

	// VMCPID is the serving vMCP's ID.
	VMCPID string

	// Method is the MCP method, e.g. "tools/call".
	Method string

	// ToolName is the exposed tool/resource/prompt name, when applicable.
	ToolName string

	// ServerName is the origin upstream's name; empty for custom origins.
	ServerName string

	// StartedAt is when request processing began.
	StartedAt time.Time

	// DurationMS is the wall-clock processing time.
	DurationMS int64

	// Outcome is "ok" or the error kind that terminated the request.
	Outcome string
}
