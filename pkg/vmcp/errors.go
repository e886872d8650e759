// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package vmcp

import (
	"errors"
	"fmt"
)

// Domain errors are classified by kind, not by Go type. Components construct
// *Error values with the kind that names the failure; the protocol adapter
// maps kinds to JSON-RPC error codes and a structured data payload. Check
// with errors.As / KindOf rather than string matching.

// ErrorKind classifies a failure for propagation and client mapping.
type ErrorKind string

const (
	// KindBadArguments means the caller's arguments failed validation.
	// Raised before touching any upstream or engine.
	KindBadArguments ErrorKind = "BadArguments"

	// KindUnknownTool means no exposed tool has the requested name.
	KindUnknownTool ErrorKind = "UnknownTool"

	// KindUnknownResource means no exposed resource has the requested URI.
	KindUnknownResource ErrorKind = "UnknownResource"

	// KindUnknownPrompt means no exposed prompt has the requested name.
	KindUnknownPrompt ErrorKind = "UnknownPrompt"

	// KindUpstreamUnavailable means the upstream could not be reached in a
	// servable state, after one implicit reconnect attempt.
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"

	// KindUpstreamTimeout means an upstream call exceeded its deadline.
	// Not retried.
	KindUpstreamTimeout ErrorKind = "UpstreamTimeout"

	// KindUpstreamProtocol means the upstream produced a malformed or
	// protocol-violating response. The session transitions to error.
	KindUpstreamProtocol ErrorKind = "UpstreamProtocol"

	// KindUpstreamToolError means the upstream returned an MCP error for
	// the call. Passed through verbatim.
	KindUpstreamToolError ErrorKind = "UpstreamToolError"

	// KindUpstreamSaturated means the per-upstream concurrency queue was
	// full. Clients may retry.
	KindUpstreamSaturated ErrorKind = "UpstreamSaturated"

	// KindAuthRequired means the upstream rejected our credentials and a
	// new grant is needed. The error carries an authorization URL when an
	// OAuth flow could be initiated.
	KindAuthRequired ErrorKind = "AuthRequired"

	// KindToolTimeout means a custom tool exceeded its wall-clock bound.
	KindToolTimeout ErrorKind = "ToolTimeout"

	// KindToolCrash means a script subprocess exited abnormally.
	KindToolCrash ErrorKind = "ToolCrash"

	// KindToolBadOutput means a custom tool produced output that could not
	// be interpreted under its declared result mapping.
	KindToolBadOutput ErrorKind = "ToolBadOutput"

	// KindToolHTTPStatus means an HTTP tool received a non-2xx response.
	// The detail carries the status and a body excerpt.
	KindToolHTTPStatus ErrorKind = "ToolHttpStatus"

	// KindTemplateSyntax means template parsing failed; the detail carries
	// the byte offset.
	KindTemplateSyntax ErrorKind = "TemplateSyntax"

	// KindTemplateMissingConfig means an @config reference named a variable
	// absent from the invocation environment.
	KindTemplateMissingConfig ErrorKind = "TemplateMissingConfig"

	// KindTemplateUnknownTarget means an @tool/@resource/@prompt reference
	// named a target the vMCP does not expose.
	KindTemplateUnknownTarget ErrorKind = "TemplateUnknownTarget"

	// KindTemplateRecursion means nested template evaluation exceeded the
	// recursion bound or revisited an in-flight call.
	KindTemplateRecursion ErrorKind = "TemplateRecursion"

	// KindInternal is the fallback for unclassified failures.
	KindInternal ErrorKind = "Internal"
)

// JSON-RPC error codes used by the protocol adapter.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// JSONRPCCode maps a kind to the JSON-RPC error code surfaced to clients.
// Argument failures map to invalid params; unknown targets map to method
// not found; everything else is reported in the server error range with
// the kind carried in the error data.
func (k ErrorKind) JSONRPCCode() int {
	switch k {
	case KindBadArguments:
		return CodeInvalidParams
	case KindUnknownTool, KindUnknownResource, KindUnknownPrompt:
		return CodeMethodNotFound
	case KindInternal:
		return CodeInternalError
	default:
		return CodeServerError
	}
}

// Retryable reports whether a client may usefully retry the request as-is.
func (k ErrorKind) Retryable() bool {
	return k == KindUpstreamSaturated
}

// Error is the domain error carried across component boundaries. It keeps
// the classification, a human-readable detail, and the origin server name
// for upstream failures.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Detail is a human-readable description. Secret values must never
	// appear here; the composer redacts details before they leave.
	Detail string

	// Server is the origin upstream's name, when the failure is tied to one.
	Server string

	// AuthorizationURL is populated on AuthRequired failures when an OAuth
	// authorization flow is available to the caller.
	AuthorizationURL string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("%s: %s (server %s)", e.Kind, e.Detail, e.Server)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithServer returns the error annotated with the origin upstream's name.
func (e *Error) WithServer(name string) *Error {
	e.Server = name
	return e
}

// WithAuthorizationURL returns the error annotated with an authorization URL.
func (e *Error) WithAuthorizationURL(u string) *Error {
	e.AuthorizationURL = u
	return e
}

// Errorf constructs a classified error with a formatted detail.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError constructs a classified error wrapping a cause. The cause's
// message is appended to the detail so callers see the full chain.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	detail := fmt.Sprintf(format, args...)
	if cause != nil {
		detail = fmt.Sprintf("%s: %v", detail, cause)
	}
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// AsError extracts the classified error from a chain, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of an error chain, or KindInternal for
// unclassified errors. A nil error has no kind and returns "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
