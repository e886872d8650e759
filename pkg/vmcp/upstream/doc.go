// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstream maintains the client half of vmcpd: one Session per
// upstream MCP server, wrapping a mark3labs MCP client with lifecycle
// tracking, outbound authentication, per-upstream concurrency bounds and
// classified errors.
//
// A Session moves through idle → connecting → connected and the terminal
// states disconnected, auth_required and error. Operations on a session in
// a terminal state perform one implicit, rate-limited reconnect before
// failing with UpstreamUnavailable. All operations are safe for concurrent
// use; at most MaxInFlight calls run against one upstream at a time and at
// most QueueBound callers wait, beyond which calls fail fast with
// UpstreamSaturated.
package upstream
