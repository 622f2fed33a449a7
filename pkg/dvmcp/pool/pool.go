// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pool aggregates the capabilities of every configured provider into
// a single registry and routes capability operations to the provider that
// owns them.
//
// Registries are cached after the first query. A routing miss triggers one
// rebuild before the lookup fails, so capabilities a provider grows at
// runtime become reachable without a restart.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/logger"
)

// maxConcurrentQueries limits parallel provider queries to avoid overwhelming
// provider processes.
const maxConcurrentQueries = 10

// Options configures the pool.
type Options struct {
	// ServerInfo is the bridge identity presented to clients.
	ServerInfo dvmcp.Implementation

	// Instructions overrides provider instructions in the initialize result.
	// When empty, the default provider's instructions are used.
	Instructions string

	// ConnectTimeout bounds each provider's startup and handshake. Zero means
	// no bound beyond the caller's context.
	ConnectTimeout time.Duration

	// CallTimeout bounds each capability invocation.
	CallTimeout time.Duration

	// ListTimeout bounds each registry refresh query.
	ListTimeout time.Duration
}

// templateRoute pairs a resource template with its owning provider, in
// registry priority order.
type templateRoute struct {
	template mcp.ResourceTemplate
	owner    dvmcp.ProviderClient
}

// capabilityPool implements the dvmcp.Pool interface. It queries providers in
// parallel, handles failures gracefully, and merges capabilities with
// configuration order deciding name conflicts.
type capabilityPool struct {
	providers []dvmcp.ProviderClient
	opts      Options

	// prices indexes declared prices by request method, then capability name.
	prices map[string]map[string]dvmcp.Price

	// group deduplicates concurrent registry rebuilds per family.
	group singleflight.Group

	mu             sync.RWMutex
	tools          []mcp.Tool
	toolOwners     map[string]dvmcp.ProviderClient
	toolsFresh     bool
	resources      []mcp.Resource
	resourceOwners map[string]dvmcp.ProviderClient
	resourcesFresh bool
	templates      []mcp.ResourceTemplate
	templateRoutes []templateRoute
	templatesFresh bool
	prompts        []mcp.Prompt
	promptOwners   map[string]dvmcp.ProviderClient
	promptsFresh   bool
}

// New creates a pool over the given providers. Provider order is priority
// order: when two providers expose the same capability name, the earlier one
// owns it.
func New(providers []dvmcp.ProviderClient, opts Options) dvmcp.Pool {
	return &capabilityPool{
		providers: providers,
		opts:      opts,
		prices:    indexPrices(providers),
	}
}

// indexPrices merges provider price lists into a method-keyed index. Earlier
// providers win duplicate capability names, matching registry priority.
func indexPrices(providers []dvmcp.ProviderClient) map[string]map[string]dvmcp.Price {
	prices := map[string]map[string]dvmcp.Price{
		dvmcp.MethodToolsCall:     {},
		dvmcp.MethodPromptsGet:    {},
		dvmcp.MethodResourcesRead: {},
	}
	add := func(method string, entries map[string]dvmcp.Price) {
		for name, price := range entries {
			if _, exists := prices[method][name]; !exists {
				prices[method][name] = price
			}
		}
	}
	for _, p := range providers {
		pricing := p.Pricing()
		add(dvmcp.MethodToolsCall, pricing.Tools)
		add(dvmcp.MethodPromptsGet, pricing.Prompts)
		add(dvmcp.MethodResourcesRead, pricing.Resources)
	}
	return prices
}

// Connect establishes every provider connection in parallel. Any failure is
// fatal: the bridge announces the aggregate capability set, so a partial pool
// would advertise capabilities it cannot serve.
func (p *capabilityPool) Connect(ctx context.Context) error {
	if len(p.providers) == 0 {
		return dvmcp.ErrNoProviders
	}
	logger.Infof("Connecting %d providers", len(p.providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)

	for _, provider := range p.providers {
		provider := provider // Capture loop variable
		g.Go(func() error {
			connectCtx, cancel := withTimeout(gctx, p.opts.ConnectTimeout)
			defer cancel()

			if err := provider.Initialize(connectCtx); err != nil {
				return fmt.Errorf("provider %s (%s): %w", provider.ID(), provider.Name(), err)
			}
			logger.Infof("Connected provider %s (%s): %d capability families",
				provider.ID(), provider.Name(), provider.Capabilities().Count())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.closeAll()
		return fmt.Errorf("failed to connect providers: %w", err)
	}
	return nil
}

// Close disconnects every provider.
func (p *capabilityPool) Close() error {
	return p.closeAll()
}

func (p *capabilityPool) closeAll() error {
	var errs []error
	for _, provider := range p.providers {
		if err := provider.Close(); err != nil {
			logger.Warnf("Failed to close provider %s: %v", provider.ID(), err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d providers", len(errs))
	}
	return nil
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// queryAll runs one query against every provider in parallel. Provider
// failures are logged and skipped so one broken provider does not empty the
// whole registry. Results keep provider order for deterministic merging.
func queryAll[T any](
	ctx context.Context,
	providers []dvmcp.ProviderClient,
	listTimeout time.Duration,
	family string,
	query func(ctx context.Context, provider dvmcp.ProviderClient) ([]T, error),
) [][]T {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)

	results := make([][]T, len(providers))
	for i, provider := range providers {
		i, provider := i, provider // Capture loop variables
		g.Go(func() error {
			queryCtx, cancel := withTimeout(gctx, listTimeout)
			defer cancel()

			items, err := query(queryCtx, provider)
			if err != nil {
				// Log the error but continue with other providers
				logger.Warnf("Failed to query %s from provider %s: %v", family, provider.ID(), err)
				return nil // Don't fail the entire operation
			}
			results[i] = items
			return nil
		})
	}
	// Goroutines only return nil; Wait is for completion, not errors.
	_ = g.Wait()
	return results
}

// refreshTools rebuilds the tool registry, deduplicating concurrent rebuilds.
func (p *capabilityPool) refreshTools(ctx context.Context) error {
	_, err, _ := p.group.Do("tools", func() (any, error) {
		results := queryAll(ctx, p.providers, p.opts.ListTimeout, "tools",
			func(ctx context.Context, provider dvmcp.ProviderClient) ([]mcp.Tool, error) {
				return provider.ListTools(ctx)
			})

		tools := make([]mcp.Tool, 0)
		owners := make(map[string]dvmcp.ProviderClient)
		for i, items := range results {
			for _, tool := range items {
				if existing, exists := owners[tool.Name]; exists {
					logger.Warnf("Tool name conflict: %s exists in both %s and %s (keeping first)",
						tool.Name, existing.ID(), p.providers[i].ID())
					continue
				}
				owners[tool.Name] = p.providers[i]
				tools = append(tools, tool)
			}
		}

		p.mu.Lock()
		p.tools = tools
		p.toolOwners = owners
		p.toolsFresh = true
		p.mu.Unlock()

		logger.Debugf("Tool registry refreshed: %d tools from %d providers", len(tools), len(p.providers))
		return nil, nil
	})
	return err
}

// refreshResources rebuilds the concrete resource registry.
func (p *capabilityPool) refreshResources(ctx context.Context) error {
	_, err, _ := p.group.Do("resources", func() (any, error) {
		results := queryAll(ctx, p.providers, p.opts.ListTimeout, "resources",
			func(ctx context.Context, provider dvmcp.ProviderClient) ([]mcp.Resource, error) {
				return provider.ListResources(ctx)
			})

		resources := make([]mcp.Resource, 0)
		owners := make(map[string]dvmcp.ProviderClient)
		for i, items := range results {
			for _, resource := range items {
				if existing, exists := owners[resource.URI]; exists {
					logger.Warnf("Resource URI conflict: %s exists in both %s and %s (keeping first)",
						resource.URI, existing.ID(), p.providers[i].ID())
					continue
				}
				owners[resource.URI] = p.providers[i]
				resources = append(resources, resource)
			}
		}

		p.mu.Lock()
		p.resources = resources
		p.resourceOwners = owners
		p.resourcesFresh = true
		p.mu.Unlock()

		logger.Debugf("Resource registry refreshed: %d resources from %d providers", len(resources), len(p.providers))
		return nil, nil
	})
	return err
}

// refreshTemplates rebuilds the resource template registry.
func (p *capabilityPool) refreshTemplates(ctx context.Context) error {
	_, err, _ := p.group.Do("templates", func() (any, error) {
		results := queryAll(ctx, p.providers, p.opts.ListTimeout, "resource templates",
			func(ctx context.Context, provider dvmcp.ProviderClient) ([]mcp.ResourceTemplate, error) {
				return provider.ListResourceTemplates(ctx)
			})

		templates := make([]mcp.ResourceTemplate, 0)
		routes := make([]templateRoute, 0)
		for i, items := range results {
			for _, template := range items {
				templates = append(templates, template)
				routes = append(routes, templateRoute{template: template, owner: p.providers[i]})
			}
		}

		p.mu.Lock()
		p.templates = templates
		p.templateRoutes = routes
		p.templatesFresh = true
		p.mu.Unlock()

		logger.Debugf("Template registry refreshed: %d templates from %d providers", len(templates), len(p.providers))
		return nil, nil
	})
	return err
}

// refreshPrompts rebuilds the prompt registry.
func (p *capabilityPool) refreshPrompts(ctx context.Context) error {
	_, err, _ := p.group.Do("prompts", func() (any, error) {
		results := queryAll(ctx, p.providers, p.opts.ListTimeout, "prompts",
			func(ctx context.Context, provider dvmcp.ProviderClient) ([]mcp.Prompt, error) {
				return provider.ListPrompts(ctx)
			})

		prompts := make([]mcp.Prompt, 0)
		owners := make(map[string]dvmcp.ProviderClient)
		for i, items := range results {
			for _, prompt := range items {
				if existing, exists := owners[prompt.Name]; exists {
					logger.Warnf("Prompt name conflict: %s exists in both %s and %s (keeping first)",
						prompt.Name, existing.ID(), p.providers[i].ID())
					continue
				}
				owners[prompt.Name] = p.providers[i]
				prompts = append(prompts, prompt)
			}
		}

		p.mu.Lock()
		p.prompts = prompts
		p.promptOwners = owners
		p.promptsFresh = true
		p.mu.Unlock()

		logger.Debugf("Prompt registry refreshed: %d prompts from %d providers", len(prompts), len(p.providers))
		return nil, nil
	})
	return err
}

// ListTools returns the aggregated tool registry.
func (p *capabilityPool) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	p.mu.RLock()
	fresh := p.toolsFresh
	p.mu.RUnlock()
	if !fresh {
		if err := p.refreshTools(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]mcp.Tool(nil), p.tools...), nil
}

// ListResources returns the aggregated resource registry.
func (p *capabilityPool) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	p.mu.RLock()
	fresh := p.resourcesFresh
	p.mu.RUnlock()
	if !fresh {
		if err := p.refreshResources(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]mcp.Resource(nil), p.resources...), nil
}

// ListResourceTemplates returns the aggregated resource template registry.
func (p *capabilityPool) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	p.mu.RLock()
	fresh := p.templatesFresh
	p.mu.RUnlock()
	if !fresh {
		if err := p.refreshTemplates(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]mcp.ResourceTemplate(nil), p.templates...), nil
}

// ListPrompts returns the aggregated prompt registry.
func (p *capabilityPool) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	p.mu.RLock()
	fresh := p.promptsFresh
	p.mu.RUnlock()
	if !fresh {
		if err := p.refreshPrompts(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]mcp.Prompt(nil), p.prompts...), nil
}

// toolOwner resolves the provider owning a tool, rebuilding the registry once
// on a miss before giving up.
func (p *capabilityPool) toolOwner(ctx context.Context, name string) (dvmcp.ProviderClient, error) {
	p.mu.RLock()
	owner := p.toolOwners[name]
	p.mu.RUnlock()
	if owner != nil {
		return owner, nil
	}

	if err := p.refreshTools(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	owner = p.toolOwners[name]
	p.mu.RUnlock()
	if owner != nil {
		return owner, nil
	}
	return nil, fmt.Errorf("%w: tool %s", dvmcp.ErrNotFound, name)
}

// resourceOwner resolves the provider owning a resource URI, checking
// concrete resources first, then resource template matches.
func (p *capabilityPool) resourceOwner(ctx context.Context, uri string) (dvmcp.ProviderClient, error) {
	lookup := func() dvmcp.ProviderClient {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if owner := p.resourceOwners[uri]; owner != nil {
			return owner
		}
		for _, route := range p.templateRoutes {
			if route.template.URITemplate == nil {
				continue
			}
			if route.template.URITemplate.Match(uri) != nil {
				return route.owner
			}
		}
		return nil
	}

	if owner := lookup(); owner != nil {
		return owner, nil
	}

	if err := p.refreshResources(ctx); err != nil {
		return nil, err
	}
	if err := p.refreshTemplates(ctx); err != nil {
		return nil, err
	}

	if owner := lookup(); owner != nil {
		return owner, nil
	}
	return nil, fmt.Errorf("%w: resource %s", dvmcp.ErrNotFound, uri)
}

// promptOwner resolves the provider owning a prompt, rebuilding the registry
// once on a miss before giving up.
func (p *capabilityPool) promptOwner(ctx context.Context, name string) (dvmcp.ProviderClient, error) {
	p.mu.RLock()
	owner := p.promptOwners[name]
	p.mu.RUnlock()
	if owner != nil {
		return owner, nil
	}

	if err := p.refreshPrompts(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	owner = p.promptOwners[name]
	p.mu.RUnlock()
	if owner != nil {
		return owner, nil
	}
	return nil, fmt.Errorf("%w: prompt %s", dvmcp.ErrNotFound, name)
}

// CallTool invokes a tool on the provider that owns it. Failures come back as
// an error-shaped result instead of an error so the caller always has a
// well-formed result to send.
func (p *capabilityPool) CallTool(
	ctx context.Context,
	name string,
	arguments map[string]any,
	meta *mcp.Meta,
) *mcp.CallToolResult {
	owner, err := p.toolOwner(ctx, name)
	if err != nil {
		return errorResult(err)
	}

	callCtx, cancel := withTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	result, err := owner.CallTool(callCtx, name, arguments, meta)
	if err != nil {
		return errorResult(err)
	}
	if result.IsError {
		logger.Warnf("Tool %s on provider %s returned an error result", name, owner.ID())
	}
	return result
}

// errorCode maps a routing or provider error to its JSON-RPC error code.
func errorCode(err error) int {
	switch {
	case errors.Is(err, dvmcp.ErrNotFound), errors.Is(err, dvmcp.ErrInvalidInput):
		return dvmcp.CodeInvalidParams
	case errors.Is(err, dvmcp.ErrUnavailable), errors.Is(err, dvmcp.ErrTimeout), errors.Is(err, dvmcp.ErrCancelled):
		return dvmcp.CodeExecutionError
	default:
		return dvmcp.CodeInternalError
	}
}

// errorResult shapes an error as a tool result. The code and message ride in
// _meta.error so programmatic callers need not parse the text content.
func errorResult(err error) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(err.Error())},
	}
	result.Meta = &mcp.Meta{
		AdditionalFields: map[string]any{
			"error": map[string]any{
				"code":    errorCode(err),
				"message": err.Error(),
			},
		},
	}
	return result
}

// ReadResource reads a resource from the provider that owns the URI.
func (p *capabilityPool) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	owner, err := p.resourceOwner(ctx, uri)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := withTimeout(ctx, p.opts.CallTimeout)
	defer cancel()
	return owner.ReadResource(callCtx, uri)
}

// GetPrompt retrieves a prompt from the provider that owns it.
func (p *capabilityPool) GetPrompt(
	ctx context.Context,
	name string,
	arguments map[string]string,
) (*mcp.GetPromptResult, error) {
	owner, err := p.promptOwner(ctx, name)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := withTimeout(ctx, p.opts.CallTimeout)
	defer cancel()
	return owner.GetPrompt(callCtx, name, arguments)
}

// Complete routes a completion request to the provider owning the referenced
// prompt or resource.
func (p *capabilityPool) Complete(
	ctx context.Context,
	ref dvmcp.CompletionRef,
	argument dvmcp.CompletionArgument,
) (*mcp.CompleteResult, error) {
	var owner dvmcp.ProviderClient
	var err error

	switch ref.Type {
	case dvmcp.RefTypePrompt:
		owner, err = p.promptOwner(ctx, ref.Name)
	case dvmcp.RefTypeResource:
		owner, err = p.resourceOwner(ctx, ref.URI)
	default:
		return nil, fmt.Errorf("%w: unknown completion reference type %q", dvmcp.ErrInvalidInput, ref.Type)
	}
	if err != nil {
		return nil, err
	}

	callCtx, cancel := withTimeout(ctx, p.opts.CallTimeout)
	defer cancel()
	return owner.Complete(callCtx, ref, argument)
}

// DefaultClient returns the provider advertising the most capability
// families, ties broken by configuration order.
func (p *capabilityPool) DefaultClient() (dvmcp.ProviderClient, error) {
	if len(p.providers) == 0 {
		return nil, dvmcp.ErrNoProviders
	}

	best := p.providers[0]
	bestCount := best.Capabilities().Count()
	for _, provider := range p.providers[1:] {
		if count := provider.Capabilities().Count(); count > bestCount {
			best = provider
			bestCount = count
		}
	}
	return best, nil
}

// Describe returns the initialize result the bridge presents to clients: the
// configured service identity with the union of provider capabilities.
func (p *capabilityPool) Describe() dvmcp.InitializeResult {
	var union dvmcp.CapabilityFlags
	for _, provider := range p.providers {
		flags := provider.Capabilities()
		union.Tools = union.Tools || flags.Tools
		union.Resources = union.Resources || flags.Resources
		union.Prompts = union.Prompts || flags.Prompts
		union.Completions = union.Completions || flags.Completions
	}

	capabilities := dvmcp.ServerCapabilities{}
	if union.Tools {
		capabilities.Tools = &dvmcp.ListChangedCapability{ListChanged: true}
	}
	if union.Resources {
		capabilities.Resources = &dvmcp.ResourcesCapability{ListChanged: true}
	}
	if union.Prompts {
		capabilities.Prompts = &dvmcp.ListChangedCapability{ListChanged: true}
	}
	if union.Completions {
		capabilities.Completions = &dvmcp.CompletionsCapability{}
	}

	instructions := p.opts.Instructions
	if instructions == "" {
		if provider, err := p.DefaultClient(); err == nil {
			instructions = provider.Instructions()
		}
	}

	return dvmcp.InitializeResult{
		ProtocolVersion: dvmcp.ProtocolVersion,
		Capabilities:    capabilities,
		ServerInfo:      p.opts.ServerInfo,
		Instructions:    instructions,
	}
}

// PriceFor returns the price of invoking the named capability through the
// given method, and whether one is set.
func (p *capabilityPool) PriceFor(method, name string) (dvmcp.Price, bool) {
	entries, ok := p.prices[method]
	if !ok {
		return dvmcp.Price{}, false
	}
	price, ok := entries[name]
	return price, ok
}
