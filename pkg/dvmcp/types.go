// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// This file contains shared domain types used across multiple dvmcp
// subpackages. Interfaces are defined here; default implementations live in
// the subpackages.

// CapabilityFlags records which capability families a provider advertised
// during its initialize handshake.
type CapabilityFlags struct {
	// Tools indicates the provider exposes tools.
	Tools bool

	// Resources indicates the provider exposes resources and resource
	// templates.
	Resources bool

	// Prompts indicates the provider exposes prompts.
	Prompts bool

	// Completions indicates the provider supports argument completion.
	Completions bool
}

// Count returns the number of advertised capability families. Used to pick
// the default client: the provider with the most families wins.
func (f CapabilityFlags) Count() int {
	n := 0
	for _, set := range []bool{f.Tools, f.Resources, f.Prompts, f.Completions} {
		if set {
			n++
		}
	}
	return n
}

// Price is the cost of invoking one capability.
type Price struct {
	// Amount is the price in whole units.
	Amount int64

	// Unit is the pricing unit, "sats" unless the price list says otherwise.
	Unit string
}

// Pricing is a provider's declared price list, keyed by tool name, prompt
// name, or resource URI. Capabilities absent from every map are free.
type Pricing struct {
	Tools     map[string]Price
	Prompts   map[string]Price
	Resources map[string]Price
}

// Implementation identifies an MCP implementation on the wire.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListChangedCapability is the wire shape for capability families that only
// advertise list-change notifications.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability is the wire shape for the resources capability family.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// CompletionsCapability is the wire shape for the completions capability
// family. Its presence alone signals support.
type CompletionsCapability struct{}

// ServerCapabilities is the aggregated capability set the bridge advertises:
// the union of every connected provider's families.
type ServerCapabilities struct {
	Tools       *ListChangedCapability `json:"tools,omitempty"`
	Resources   *ResourcesCapability   `json:"resources,omitempty"`
	Prompts     *ListChangedCapability `json:"prompts,omitempty"`
	Completions *CompletionsCapability `json:"completions,omitempty"`
}

// InitializeResult is the wire shape answering an initialize request. The
// same JSON doubles as server announcement content.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Completion reference types per the capability protocol.
const (
	RefTypePrompt   = "ref/prompt"
	RefTypeResource = "ref/resource"
)

// CompletionRef identifies the prompt or resource template a completion
// request targets.
type CompletionRef struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// CompletionArgument is the argument being completed.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ProviderClient is one live connection to a local capability provider.
// Implementations handle the transport-level details of speaking MCP to the
// provider process.
type ProviderClient interface {
	// ID returns the stable provider identifier assigned from configuration.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Initialize performs the MCP handshake and records the provider's
	// advertised capabilities. It must be called before any other operation.
	Initialize(ctx context.Context) error

	// Close shuts down the provider connection and its process.
	Close() error

	// Capabilities returns the families advertised during the handshake.
	Capabilities() CapabilityFlags

	// ServerInfo returns the provider's implementation identity.
	ServerInfo() Implementation

	// Instructions returns the provider's usage instructions, if any.
	Instructions() string

	// Pricing returns the provider's declared price list.
	Pricing() Pricing

	// ListTools queries the provider's tools.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// ListResources queries the provider's concrete resources.
	ListResources(ctx context.Context) ([]mcp.Resource, error)

	// ListResourceTemplates queries the provider's resource templates.
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)

	// ListPrompts queries the provider's prompts.
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)

	// CallTool invokes a tool. The meta parameter carries _meta fields from
	// the client request that are forwarded to the provider.
	CallTool(ctx context.Context, name string, arguments map[string]any, meta *mcp.Meta) (*mcp.CallToolResult, error)

	// ReadResource retrieves a resource by URI.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

	// GetPrompt retrieves a prompt with the given arguments.
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error)

	// Complete asks the provider to complete an argument value.
	Complete(ctx context.Context, ref CompletionRef, argument CompletionArgument) (*mcp.CompleteResult, error)

	// Ping checks that the provider connection is alive.
	Ping(ctx context.Context) error
}

// Pool aggregates the capabilities of every configured provider and routes
// capability operations to the provider that owns them.
type Pool interface {
	// Connect establishes every provider connection concurrently. It fails
	// if any provider fails, closing the ones that did connect.
	Connect(ctx context.Context) error

	// Close disconnects every provider.
	Close() error

	// ListTools returns the aggregated tool registry.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// ListResources returns the aggregated resource registry.
	ListResources(ctx context.Context) ([]mcp.Resource, error)

	// ListResourceTemplates returns the aggregated resource template registry.
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)

	// ListPrompts returns the aggregated prompt registry.
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)

	// CallTool invokes a tool on the provider that owns it. It never returns
	// an error: failures come back as an error-shaped result so the caller
	// always has something well-formed to send.
	CallTool(ctx context.Context, name string, arguments map[string]any, meta *mcp.Meta) *mcp.CallToolResult

	// ReadResource reads a resource from the provider whose registry entry
	// matches the URI, directly or through a resource template.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

	// GetPrompt retrieves a prompt from the provider that owns it.
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*mcp.GetPromptResult, error)

	// Complete routes a completion request by its reference: prompt name for
	// ref/prompt, resource URI for ref/resource.
	Complete(ctx context.Context, ref CompletionRef, argument CompletionArgument) (*mcp.CompleteResult, error)

	// DefaultClient returns the provider advertising the most capability
	// families, ties broken by configuration order.
	DefaultClient() (ProviderClient, error)

	// Describe returns the initialize result the bridge presents to clients:
	// aggregated capabilities plus the configured service identity.
	Describe() InitializeResult

	// PriceFor returns the price of invoking the named capability through
	// the given method, and whether one is set.
	PriceFor(method, name string) (Price, bool)
}
