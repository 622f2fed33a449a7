// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the Nostr event transport for the bridge.
//
// A transport maintains a pool of relay connections with publish fan-out,
// subscription fan-in, stored-event queries, and automatic reconnection.
// Events arriving from several relays at once are deduplicated by event id
// before they reach a subscription handler.
package transport

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Publisher publishes events to the relay set.
type Publisher interface {
	// Publish signs nothing and sends the given event to every connected
	// relay. It succeeds when at least one relay accepts the event.
	Publish(ctx context.Context, evt *nostr.Event) error
}

// Subscriber consumes events from the relay set.
type Subscriber interface {
	// Subscribe registers a live subscription across the relay pool. It
	// lives until Unsubscribe or Close; the handler runs once per distinct
	// event id.
	Subscribe(filter nostr.Filter, handler func(*nostr.Event)) (string, error)

	// Unsubscribe cancels a subscription created by Subscribe.
	Unsubscribe(id string)

	// Query collects stored events matching the filter from every relay in
	// the pool, deduplicated by event id.
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)

	// Watch subscribes to the filter on an ad-hoc relay set. URLs already in
	// the pool reuse pooled connections; other relays are dialed for the
	// watch's lifetime. The returned stop function tears the watch down and
	// is safe to call more than once.
	Watch(ctx context.Context, urls []string, filter nostr.Filter, handler func(*nostr.Event)) (func(), error)
}

// Transport is the full event transport the bridge runs on.
type Transport interface {
	Publisher
	Subscriber

	// Connect dials every configured relay concurrently. It fails only when
	// no relay could be reached; partial connectivity is logged and served.
	Connect(ctx context.Context) error

	// OnReconnect registers a callback invoked after a dropped relay
	// connection has been re-established and its subscriptions reattached.
	OnReconnect(fn func())

	// URLs returns the configured relay URLs.
	URLs() []string

	// Close tears down every subscription and relay connection.
	Close() error
}
