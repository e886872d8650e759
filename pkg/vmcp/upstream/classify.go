// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"net"
	"strings"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// classify maps a raw client error onto a domain error kind. Detection runs
// in order of reliability: already-classified errors pass through, then
// typed checks (context, net.Error), then string patterns for the cases
// where the SDK and HTTP stack only give us formatted messages. Unmatched
// errors get the fallback kind: UpstreamUnavailable for connect and list
// paths, UpstreamToolError for invocations on an established session where
// an unrecognized error is almost always a JSON-RPC error answered by the
// upstream itself.
func classify(err error, fallback vmcp.ErrorKind) *vmcp.Error {
	if err == nil {
		return nil
	}

	var classified *vmcp.Error
	if errors.As(err, &classified) {
		return classified
	}

	// Both SDK transports collapse any 401 into this sentinel and discard
	// the response body, so it must be matched typed; no string pattern
	// ever sees the status line.
	if errors.Is(err, mcptransport.ErrUnauthorized) {
		return vmcp.WrapError(vmcp.KindAuthRequired, err, "upstream rejected credentials")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return vmcp.WrapError(vmcp.KindUpstreamTimeout, err, "operation timed out")
	}
	if errors.Is(err, context.Canceled) {
		return vmcp.WrapError(vmcp.KindInternal, err, "operation canceled")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return vmcp.WrapError(vmcp.KindUpstreamTimeout, err, "operation timed out")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAuthError(msg):
		return vmcp.WrapError(vmcp.KindAuthRequired, err, "upstream rejected credentials")
	case containsTimeoutError(msg):
		return vmcp.WrapError(vmcp.KindUpstreamTimeout, err, "operation timed out")
	case containsConnectionError(msg):
		return vmcp.WrapError(vmcp.KindUpstreamUnavailable, err, "upstream unreachable")
	case containsProtocolError(msg):
		return vmcp.WrapError(vmcp.KindUpstreamProtocol, err, "malformed upstream response")
	}

	return vmcp.WrapError(fallback, err, "upstream call failed")
}

// containsAuthError reports whether a lowercase error string carries an
// authentication failure pattern.
func containsAuthError(errLower string) bool {
	return strings.Contains(errLower, "authentication failed") ||
		strings.Contains(errLower, "authentication error") ||
		strings.Contains(errLower, "401 unauthorized") ||
		strings.Contains(errLower, "403 forbidden") ||
		strings.Contains(errLower, "http 401") ||
		strings.Contains(errLower, "http 403") ||
		strings.Contains(errLower, "status code 401") ||
		strings.Contains(errLower, "status code 403") ||
		strings.Contains(errLower, "status 401") ||
		strings.Contains(errLower, "status 403") ||
		strings.Contains(errLower, "request unauthenticated") ||
		strings.Contains(errLower, "request unauthorized") ||
		strings.Contains(errLower, "invalid_token") ||
		strings.Contains(errLower, "access denied")
}

// containsTimeoutError reports whether a lowercase error string carries a
// timeout pattern.
func containsTimeoutError(errLower string) bool {
	return strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "deadline exceeded")
}

// containsConnectionError reports whether a lowercase error string carries a
// connection failure pattern.
func containsConnectionError(errLower string) bool {
	return strings.Contains(errLower, "connection refused") ||
		strings.Contains(errLower, "connection reset") ||
		strings.Contains(errLower, "no route to host") ||
		strings.Contains(errLower, "network is unreachable") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "eof")
}

// containsProtocolError reports whether a lowercase error string indicates
// a response that could not be decoded.
func containsProtocolError(errLower string) bool {
	return strings.Contains(errLower, "unmarshal") ||
		strings.Contains(errLower, "invalid character") ||
		strings.Contains(errLower, "unexpected end of json")
}

// methodUnsupported reports whether an error looks like the upstream
// rejecting the method itself (not supported or not found). Discovery uses
// it to record an empty capability list instead of failing the snapshot.
func methodUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "method not allowed") ||
		strings.Contains(msg, "not supported")
}
