// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package announcer publishes the addressable events that make the bridge
// discoverable: a kind 31316 server announcement plus kind 31317, 31318 and
// 31319 capability list announcements, and the kind 5 deletion that retracts
// all four on shutdown.
//
// Priced capabilities ride on the server announcement as cap tags of the
// form ["cap", method, name, amount, unit], so clients can see prices before
// sending a request.
package announcer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nbd-wtf/go-nostr"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/identity"
	"github.com/stacklok/dvmcp/pkg/logger"
)

// List announcement d-tag suffixes, appended to the server identifier.
const (
	toolsSuffix     = "/tools"
	resourcesSuffix = "/resources"
	promptsSuffix   = "/prompts"
)

// Publisher publishes events to the relay set. Satisfied by the nostr
// transport.
type Publisher interface {
	Publish(ctx context.Context, evt *nostr.Event) error
}

// Options configures the announcer.
type Options struct {
	// Identity signs announcements.
	Identity *identity.Manager

	// Publisher delivers announcements to the relay set.
	Publisher Publisher

	// Pool supplies the aggregated capability registries.
	Pool dvmcp.Pool

	// ServerID is the stable identifier used in d tags. When empty, one is
	// derived from the public key.
	ServerID string

	// Service metadata mirrored into announcement tags.
	Name    string
	About   string
	Picture string
	Website string

	// SupportsEncryption advertises gift wrap support.
	SupportsEncryption bool
}

// Announcer builds and publishes the bridge's announcement events.
type Announcer struct {
	opts Options
}

// New creates an announcer. A missing server identifier falls back to one
// derived from the public key, so the d tags stay stable across restarts.
func New(opts Options) *Announcer {
	if opts.ServerID == "" {
		opts.ServerID = DeriveServerID(opts.Identity.PublicKey())
	}
	return &Announcer{opts: opts}
}

// DeriveServerID builds the fallback server identifier for a public key.
func DeriveServerID(publicKey string) string {
	if len(publicKey) > 16 {
		publicKey = publicKey[:16]
	}
	return "dvmcp-" + publicKey
}

// ServerID returns the identifier used in announcement d tags and matched
// against request s tags.
func (a *Announcer) ServerID() string {
	return a.opts.ServerID
}

// Announce publishes the server announcement and the three capability list
// announcements. Publish failures are collected rather than aborting, so a
// partial announcement still reaches the relays that accept it.
func (a *Announcer) Announce(ctx context.Context) error {
	tools, err := a.opts.Pool.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools for announcement: %w", err)
	}
	resources, err := a.opts.Pool.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resources for announcement: %w", err)
	}
	templates, err := a.opts.Pool.ListResourceTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resource templates for announcement: %w", err)
	}
	prompts, err := a.opts.Pool.ListPrompts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list prompts for announcement: %w", err)
	}

	events := make([]*nostr.Event, 0, 4)

	server, err := a.buildServerAnnouncement(tools, resources, templates, prompts)
	if err != nil {
		return err
	}
	events = append(events, server)

	toolsEvent, err := a.buildListAnnouncement(dvmcp.KindToolsList, toolsSuffix, map[string]any{
		"tools": tools,
	})
	if err != nil {
		return err
	}
	events = append(events, toolsEvent)

	resourcesEvent, err := a.buildListAnnouncement(dvmcp.KindResourcesList, resourcesSuffix, map[string]any{
		"resources":         resources,
		"resourceTemplates": templates,
	})
	if err != nil {
		return err
	}
	events = append(events, resourcesEvent)

	promptsEvent, err := a.buildListAnnouncement(dvmcp.KindPromptsList, promptsSuffix, map[string]any{
		"prompts": prompts,
	})
	if err != nil {
		return err
	}
	events = append(events, promptsEvent)

	var errs []error
	for _, evt := range events {
		if err := a.opts.Publisher.Publish(ctx, evt); err != nil {
			logger.Warnf("Failed to publish announcement kind %d: %v", evt.Kind, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to publish %d announcements: %w", len(errs), errors.Join(errs...))
	}

	logger.Infof("Announced server %s: %d tools, %d resources, %d templates, %d prompts",
		a.opts.ServerID, len(tools), len(resources), len(templates), len(prompts))
	return nil
}

// buildServerAnnouncement renders the kind 31316 event: the initialize
// result as content, service metadata and pricing as tags.
func (a *Announcer) buildServerAnnouncement(
	tools []mcp.Tool,
	resources []mcp.Resource,
	templates []mcp.ResourceTemplate,
	prompts []mcp.Prompt,
) (*nostr.Event, error) {
	content, err := json.Marshal(a.opts.Pool.Describe())
	if err != nil {
		return nil, fmt.Errorf("failed to encode server announcement: %w", err)
	}

	tags := nostr.Tags{
		{dvmcp.TagIdentifier, a.opts.ServerID},
		{dvmcp.TagKind, strconv.Itoa(dvmcp.KindRequest)},
		{dvmcp.TagSupportEncryption, strconv.FormatBool(a.opts.SupportsEncryption)},
	}
	for _, meta := range []struct{ name, value string }{
		{dvmcp.TagName, a.opts.Name},
		{dvmcp.TagAbout, a.opts.About},
		{dvmcp.TagPicture, a.opts.Picture},
		{dvmcp.TagWebsite, a.opts.Website},
	} {
		if meta.value != "" {
			tags = append(tags, nostr.Tag{meta.name, meta.value})
		}
	}

	for _, tool := range tools {
		tags = a.appendCapTag(tags, dvmcp.MethodToolsCall, tool.Name)
	}
	for _, prompt := range prompts {
		tags = a.appendCapTag(tags, dvmcp.MethodPromptsGet, prompt.Name)
	}
	for _, resource := range resources {
		tags = a.appendCapTag(tags, dvmcp.MethodResourcesRead, resource.URI)
	}
	for _, template := range templates {
		if template.URITemplate == nil {
			continue
		}
		tags = a.appendCapTag(tags, dvmcp.MethodResourcesRead, template.URITemplate.Raw())
	}

	evt := a.opts.Identity.NewEvent(dvmcp.KindServerAnnouncement, tags, string(content))
	if err := a.opts.Identity.Sign(evt); err != nil {
		return nil, fmt.Errorf("failed to sign server announcement: %w", err)
	}
	return evt, nil
}

// appendCapTag appends a pricing tag for the capability when a price is set.
func (a *Announcer) appendCapTag(tags nostr.Tags, method, name string) nostr.Tags {
	price, ok := a.opts.Pool.PriceFor(method, name)
	if !ok || price.Amount <= 0 {
		return tags
	}
	unit := price.Unit
	if unit == "" {
		unit = dvmcp.UnitSats
	}
	return append(tags, nostr.Tag{
		dvmcp.TagCapability, method, name, strconv.FormatInt(price.Amount, 10), unit,
	})
}

// buildListAnnouncement renders one of the kind 31317-31319 list events.
func (a *Announcer) buildListAnnouncement(kind int, suffix string, content map[string]any) (*nostr.Event, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode list announcement: %w", err)
	}

	tags := nostr.Tags{
		{dvmcp.TagIdentifier, a.opts.ServerID + suffix},
		{dvmcp.TagServer, a.opts.ServerID},
		{dvmcp.TagKind, strconv.Itoa(dvmcp.KindRequest)},
	}

	evt := a.opts.Identity.NewEvent(kind, tags, string(encoded))
	if err := a.opts.Identity.Sign(evt); err != nil {
		return nil, fmt.Errorf("failed to sign list announcement: %w", err)
	}
	return evt, nil
}

// Retract publishes a deletion event referencing all four announcement
// addresses, telling relays and clients the server is gone.
func (a *Announcer) Retract(ctx context.Context) error {
	pubkey := a.opts.Identity.PublicKey()
	tags := nostr.Tags{
		{dvmcp.TagAddress, dvmcp.EventAddress(dvmcp.KindServerAnnouncement, pubkey, a.opts.ServerID)},
		{dvmcp.TagAddress, dvmcp.EventAddress(dvmcp.KindToolsList, pubkey, a.opts.ServerID+toolsSuffix)},
		{dvmcp.TagAddress, dvmcp.EventAddress(dvmcp.KindResourcesList, pubkey, a.opts.ServerID+resourcesSuffix)},
		{dvmcp.TagAddress, dvmcp.EventAddress(dvmcp.KindPromptsList, pubkey, a.opts.ServerID+promptsSuffix)},
		{dvmcp.TagKind, strconv.Itoa(dvmcp.KindServerAnnouncement)},
		{dvmcp.TagKind, strconv.Itoa(dvmcp.KindToolsList)},
		{dvmcp.TagKind, strconv.Itoa(dvmcp.KindResourcesList)},
		{dvmcp.TagKind, strconv.Itoa(dvmcp.KindPromptsList)},
	}

	evt := a.opts.Identity.NewEvent(dvmcp.KindDeletion, tags, "")
	if err := a.opts.Identity.Sign(evt); err != nil {
		return fmt.Errorf("failed to sign retraction: %w", err)
	}
	if err := a.opts.Publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("failed to publish retraction: %w", err)
	}

	logger.Infof("Retracted announcements for server %s", a.opts.ServerID)
	return nil
}
