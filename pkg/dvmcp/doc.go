// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dvmcp provides the core domain model for the DVMCP bridge.
//
// The bridge exposes a pool of local MCP servers to the Nostr network using
// the DVMCP protocol: requests, responses, and notifications are signed Nostr
// events whose content is a JSON-RPC 2.0 message, optionally sealed inside a
// NIP-59 gift wrap and optionally gated behind a Lightning payment.
//
// # Architecture
//
// This package contains the shared domain types, wire constants, and domain
// errors. Behavior lives in subpackages:
//
//	pkg/dvmcp/
//	├── kinds.go              // Event kinds, tag names, methods, statuses
//	├── rpc.go                // JSON-RPC message types and error codes
//	├── types.go              // Shared domain types and interfaces
//	├── errors.go             // Domain errors
//	├── client/               // Stdio MCP connection to one provider
//	├── pool/                 // Capability pool: registries, routing, pricing
//	├── envelope/             // NIP-59 gift wrap encryption gate
//	├── payment/              // Lightning payment gate (LNURL + zap receipts)
//	├── announcer/            // Server/capability announcements and retraction
//	└── router/               // Inbound request state machine
//
// # Core Concepts
//
// **Pool**: Connects every configured provider, aggregates their tools,
// resources, resource templates, and prompts into cached registries, and
// routes capability operations to the owning provider.
//
// **Envelope**: Unwraps two-layer encrypted requests and mirrors the privacy
// choice on the way out: encrypted in, encrypted out.
//
// **Payment**: For priced capabilities, issues an invoice and holds the
// request until a matching proof-of-payment event arrives or a timeout fires.
//
// **Router**: Drives each inbound event through decrypt, parse, authorize,
// dispatch, and respond. Every malformed or failed request still produces a
// well-formed JSON-RPC error response unless the protocol demands silence.
package dvmcp
