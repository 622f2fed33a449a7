// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides the MCP protocol client for local capability
// providers.
//
// This package implements the ProviderClient interface defined in the dvmcp
// package, using the mark3labs/mcp-go SDK over stdio: each provider is a
// child process speaking MCP on its standard streams, spawned once and kept
// alive for the life of the bridge.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/logger"
)

// mcpClient is the subset of the mark3labs client used by the provider.
// Abstracted as an interface to enable testing with fake clients.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ListResourceTemplates(
		ctx context.Context,
		request mcp.ListResourceTemplatesRequest,
	) (*mcp.ListResourceTemplatesResult, error)
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Complete(ctx context.Context, request mcp.CompleteRequest) (*mcp.CompleteResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures one provider connection.
type Options struct {
	// ID is the stable provider identifier assigned from configuration order.
	ID string

	// Name is the human-readable provider name.
	Name string

	// Command is the executable spawned for this provider.
	Command string

	// Args are passed to the command.
	Args []string

	// Env adds environment variables to the provider process.
	Env map[string]string

	// Pricing is the provider's declared price list.
	Pricing dvmcp.Pricing

	// ClientName and ClientVersion identify the bridge in the handshake.
	ClientName    string
	ClientVersion string
}

// stdioProvider implements dvmcp.ProviderClient over a stdio MCP connection.
type stdioProvider struct {
	opts Options

	// clientFactory spawns the provider process and returns a connected
	// client. Abstracted as a function to enable testing with fake clients.
	clientFactory func() (mcpClient, error)

	mu           sync.RWMutex
	client       mcpClient
	flags        dvmcp.CapabilityFlags
	serverInfo   dvmcp.Implementation
	instructions string
}

// New creates a provider client for the given options. The provider process
// is not spawned until Initialize is called.
func New(opts Options) dvmcp.ProviderClient {
	p := &stdioProvider{opts: opts}
	p.clientFactory = p.defaultClientFactory
	return p
}

// defaultClientFactory spawns the provider process over stdio.
func (p *stdioProvider) defaultClientFactory() (mcpClient, error) {
	env := make([]string, 0, len(p.opts.Env))
	for k, v := range p.opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	c, err := mcpclient.NewStdioMCPClient(p.opts.Command, env, p.opts.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn provider process: %w", err)
	}
	return c, nil
}

// wrapProviderError wraps an error with the appropriate sentinel error based
// on error type. This enables type-safe error checking with errors.Is()
// instead of string matching.
func wrapProviderError(err error, providerID string, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: failed to %s for provider %s (timeout): %v",
			dvmcp.ErrTimeout, operation, providerID, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: failed to %s for provider %s (cancelled): %v",
			dvmcp.ErrCancelled, operation, providerID, err)
	}

	return fmt.Errorf("%w: failed to %s for provider %s: %v",
		dvmcp.ErrUnavailable, operation, providerID, err)
}

// ID returns the stable provider identifier.
func (p *stdioProvider) ID() string {
	return p.opts.ID
}

// Name returns the human-readable provider name.
func (p *stdioProvider) Name() string {
	return p.opts.Name
}

// Initialize spawns the provider process and performs the MCP handshake,
// recording the provider's advertised capabilities.
func (p *stdioProvider) Initialize(ctx context.Context) error {
	c, err := p.clientFactory()
	if err != nil {
		return wrapProviderError(err, p.opts.ID, "create client")
	}

	result, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    p.opts.ClientName,
				Version: p.opts.ClientVersion,
			},
		},
	})
	if err != nil {
		if closeErr := c.Close(); closeErr != nil {
			logger.Debugf("Failed to close client for provider %s: %v", p.opts.ID, closeErr)
		}
		return wrapProviderError(err, p.opts.ID, "initialize client")
	}

	flags := dvmcp.CapabilityFlags{
		Tools:       result.Capabilities.Tools != nil,
		Resources:   result.Capabilities.Resources != nil,
		Prompts:     result.Capabilities.Prompts != nil,
		Completions: result.Capabilities.Completions != nil,
	}

	p.mu.Lock()
	p.client = c
	p.flags = flags
	p.serverInfo = dvmcp.Implementation{
		Name:    result.ServerInfo.Name,
		Version: result.ServerInfo.Version,
	}
	p.instructions = result.Instructions
	p.mu.Unlock()

	logger.Debugf("Provider %s (%s) capabilities: tools=%v, resources=%v, prompts=%v, completions=%v",
		p.opts.ID, p.opts.Name, flags.Tools, flags.Resources, flags.Prompts, flags.Completions)

	return nil
}

// Close shuts down the provider connection and its process.
func (p *stdioProvider) Close() error {
	p.mu.Lock()
	c := p.client
	p.client = nil
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// Capabilities returns the families advertised during the handshake.
func (p *stdioProvider) Capabilities() dvmcp.CapabilityFlags {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.flags
}

// ServerInfo returns the provider's implementation identity.
func (p *stdioProvider) ServerInfo() dvmcp.Implementation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.serverInfo
}

// Instructions returns the provider's usage instructions, if any.
func (p *stdioProvider) Instructions() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instructions
}

// Pricing returns the provider's declared price list.
func (p *stdioProvider) Pricing() dvmcp.Pricing {
	return p.opts.Pricing
}

// live returns the connected client or an error when Initialize has not
// succeeded yet.
func (p *stdioProvider) live() (mcpClient, dvmcp.CapabilityFlags, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, dvmcp.CapabilityFlags{}, fmt.Errorf("%w: provider %s is not connected", dvmcp.ErrUnavailable, p.opts.ID)
	}
	return p.client, p.flags, nil
}

// ListTools queries the provider's tools. Providers that do not advertise
// the tools capability contribute an empty list.
func (p *stdioProvider) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c, flags, err := p.live()
	if err != nil {
		return nil, err
	}
	if !flags.Tools {
		logger.Debugf("Provider %s does not advertise tools capability, skipping tools query", p.opts.ID)
		return []mcp.Tool{}, nil
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "list tools")
	}
	return result.Tools, nil
}

// ListResources queries the provider's concrete resources.
func (p *stdioProvider) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	c, flags, err := p.live()
	if err != nil {
		return nil, err
	}
	if !flags.Resources {
		logger.Debugf("Provider %s does not advertise resources capability, skipping resources query", p.opts.ID)
		return []mcp.Resource{}, nil
	}

	result, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "list resources")
	}
	return result.Resources, nil
}

// ListResourceTemplates queries the provider's resource templates.
func (p *stdioProvider) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	c, flags, err := p.live()
	if err != nil {
		return nil, err
	}
	if !flags.Resources {
		logger.Debugf("Provider %s does not advertise resources capability, skipping templates query", p.opts.ID)
		return []mcp.ResourceTemplate{}, nil
	}

	result, err := c.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "list resource templates")
	}
	return result.ResourceTemplates, nil
}

// ListPrompts queries the provider's prompts.
func (p *stdioProvider) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	c, flags, err := p.live()
	if err != nil {
		return nil, err
	}
	if !flags.Prompts {
		logger.Debugf("Provider %s does not advertise prompts capability, skipping prompts query", p.opts.ID)
		return []mcp.Prompt{}, nil
	}

	result, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "list prompts")
	}
	return result.Prompts, nil
}

// CallTool invokes a tool on the provider, forwarding request _meta fields.
func (p *stdioProvider) CallTool(
	ctx context.Context,
	name string,
	arguments map[string]any,
	meta *mcp.Meta,
) (*mcp.CallToolResult, error) {
	c, _, err := p.live()
	if err != nil {
		return nil, err
	}

	logger.Debugf("Calling tool %s on provider %s", name, p.opts.ID)
	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: arguments,
			Meta:      meta,
		},
	})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "call tool")
	}
	return result, nil
}

// ReadResource retrieves a resource by URI.
func (p *stdioProvider) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	c, _, err := p.live()
	if err != nil {
		return nil, err
	}

	logger.Debugf("Reading resource %s from provider %s", uri, p.opts.ID)
	result, err := c.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: uri},
	})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "read resource")
	}
	return result, nil
}

// GetPrompt retrieves a prompt with the given arguments.
func (p *stdioProvider) GetPrompt(
	ctx context.Context,
	name string,
	arguments map[string]string,
) (*mcp.GetPromptResult, error) {
	c, _, err := p.live()
	if err != nil {
		return nil, err
	}

	logger.Debugf("Getting prompt %s from provider %s", name, p.opts.ID)
	result, err := c.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: name, Arguments: arguments},
	})
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "get prompt")
	}
	return result, nil
}

// Complete asks the provider to complete an argument value.
func (p *stdioProvider) Complete(
	ctx context.Context,
	ref dvmcp.CompletionRef,
	argument dvmcp.CompletionArgument,
) (*mcp.CompleteResult, error) {
	c, flags, err := p.live()
	if err != nil {
		return nil, err
	}
	if !flags.Completions {
		return nil, fmt.Errorf("%w: provider %s does not support completions", dvmcp.ErrNotFound, p.opts.ID)
	}

	request := mcp.CompleteRequest{}
	switch ref.Type {
	case dvmcp.RefTypePrompt:
		request.Params.Ref = mcp.PromptReference{Type: ref.Type, Name: ref.Name}
	case dvmcp.RefTypeResource:
		request.Params.Ref = mcp.ResourceReference{Type: ref.Type, URI: ref.URI}
	default:
		return nil, fmt.Errorf("%w: unknown completion reference type %q", dvmcp.ErrInvalidInput, ref.Type)
	}
	request.Params.Argument.Name = argument.Name
	request.Params.Argument.Value = argument.Value

	result, err := c.Complete(ctx, request)
	if err != nil {
		return nil, wrapProviderError(err, p.opts.ID, "complete")
	}
	return result, nil
}

// Ping checks that the provider connection is alive.
func (p *stdioProvider) Ping(ctx context.Context) error {
	c, _, err := p.live()
	if err != nil {
		return err
	}
	if err := c.Ping(ctx); err != nil {
		return wrapProviderError(err, p.opts.ID, "ping")
	}
	return nil
}
