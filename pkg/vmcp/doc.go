// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package vmcp implements the virtual MCP server core.
//
// A virtual MCP (vMCP) composes the tools, resources and prompts of many
// upstream MCP servers, plus locally defined custom tools, resources and
// prompts, into a single MCP surface served under /private/{name}/vmcp.
// This package contains the shared domain model; the behavior lives in the
// subpackages.
//
// # Architecture
//
// The packages form a dependency tree with the domain model at the root:
//
//	pkg/vmcp/
//	├── types.go              // Shared domain types (UpstreamServer, VMCP, Tool, ...)
//	├── errors.go             // Error taxonomy (ErrorKind, Error)
//	├── invocation.go         // Per-request InvocationContext
//	├── auth/                 // Outgoing authentication
//	│   └── types/            // Leaf auth config types
//	├── cache/                // OAuth token caching (memory, Redis)
//	├── upstream/             // Upstream sessions (transports, reconnect, discovery)
//	├── registry/             // Session registry (server id -> live session handle)
//	├── capcache/             // Capability snapshot cache
//	├── template/             // Expression + text template engine
//	├── engine/               // Custom tool engines (script, http, prompt)
//	├── composer/             // Capability merge, collision rules, dispatch
//	├── server/               // HTTP server shell
//	│   └── adapter/          // MCP protocol adapter (JSON-RPC termination)
//	├── store/                // SQLite persistence (servers, vmcps, usage, blobs)
//	└── manager/              // Control operations consumed by the REST layer
//
// # Core Concepts
//
// **Sessions**: one logical channel per upstream server, with lazy connect,
// one implicit reconnect, per-upstream concurrency bounds and auth handling
// (bearer, API key, basic, header set, OAuth PKCE).
//
// **Capability cache**: per-upstream atomic snapshots of discovered tools,
// resources, resource templates and prompts. Readers never block writers.
//
// **Composition**: a vMCP's upstream list is merged in order with its custom
// definitions. First occurrence wins a bare name; later collisions are
// exposed with an "@server" suffix; custom definitions always win.
//
// **Templates**: custom tool bodies and prompts may embed @param, @config,
// @tool(...), @resource(...) and @prompt(...) expressions plus a
// mustache-style text layer. Nested evaluation is depth-bounded and
// memoized per request.
//
// **Errors**: every failure is classified by ErrorKind; the adapter maps
// kinds to JSON-RPC codes with a structured data payload naming the kind,
// detail and origin server.
package vmcp
