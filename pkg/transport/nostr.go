// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/dvmcp/pkg/logger"
)

// Connection pool tuning.
const (
	// maxConcurrentDials limits parallel relay connection attempts.
	maxConcurrentDials = 10

	// seenWindow is how many recent event ids each subscription remembers
	// for cross-relay deduplication.
	seenWindow = 512

	// reconnectInitialInterval seeds the reconnect backoff.
	reconnectInitialInterval = time.Second

	// reconnectMaxInterval caps the reconnect backoff.
	reconnectMaxInterval = 2 * time.Minute
)

var (
	// ErrTransportClosed indicates an operation on a closed transport.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrNoRelays indicates no relay connection was available.
	ErrNoRelays = errors.New("no connected relays")
)

// poolSubscription is one logical subscription fanned out across every
// pooled relay connection. Each carries its own dedupe window so relays
// delivering the same event only trigger the handler once.
type poolSubscription struct {
	id      string
	filter  nostr.Filter
	handler func(*nostr.Event)
	seen    *seenCache

	mu     sync.Mutex
	active map[string]*nostr.Subscription
}

func newPoolSubscription(filter nostr.Filter, handler func(*nostr.Event)) *poolSubscription {
	return &poolSubscription{
		id:      uuid.NewString(),
		filter:  filter,
		handler: handler,
		seen:    newSeenCache(seenWindow),
		active:  make(map[string]*nostr.Subscription),
	}
}

func (s *poolSubscription) unsubAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.active {
		sub.Unsub()
	}
	s.active = make(map[string]*nostr.Subscription)
}

// nostrTransport maintains the relay connection pool.
type nostrTransport struct {
	urls []string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	relays       map[string]*nostr.Relay
	subs         map[string]*poolSubscription
	reconnectFns []func()
	closed       bool

	wg sync.WaitGroup
}

// New creates a transport over the given relay URLs. Connect must be called
// before the transport is used.
func New(relayURLs []string) Transport {
	ctx, cancel := context.WithCancel(context.Background())

	urls := make([]string, 0, len(relayURLs))
	for _, u := range relayURLs {
		urls = append(urls, nostr.NormalizeURL(u))
	}

	return &nostrTransport{
		urls:   urls,
		ctx:    ctx,
		cancel: cancel,
		relays: make(map[string]*nostr.Relay, len(urls)),
		subs:   make(map[string]*poolSubscription),
	}
}

// Connect dials every configured relay in parallel. Individual failures are
// logged and tolerated; only a completely unreachable relay set is an error.
func (t *nostrTransport) Connect(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDials)

	for _, url := range t.urls {
		url := url
		g.Go(func() error {
			relay, err := nostr.RelayConnect(ctx, url)
			if err != nil {
				logger.Warnf("Failed to connect to relay %s: %v", url, err)
				return nil // Don't fail the entire operation
			}

			t.mu.Lock()
			t.relays[url] = relay
			t.mu.Unlock()

			t.watchConnection(url, relay)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("relay connections failed: %w", err)
	}

	t.mu.RLock()
	connected := len(t.relays)
	t.mu.RUnlock()

	if connected == 0 {
		return fmt.Errorf("%w: none of the %d configured relays are reachable", ErrNoRelays, len(t.urls))
	}

	logger.Infof("Connected to %d/%d relays", connected, len(t.urls))
	return nil
}

// watchConnection waits for the relay connection to drop and triggers the
// reconnect loop.
func (t *nostrTransport) watchConnection(url string, relay *nostr.Relay) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		select {
		case <-t.ctx.Done():
			return
		case <-relay.Context().Done():
		}
		if t.ctx.Err() != nil {
			return
		}

		logger.Warnf("Lost connection to relay %s", url)

		t.mu.Lock()
		delete(t.relays, url)
		t.mu.Unlock()

		t.reconnect(url)
	}()
}

// reconnect re-dials a dropped relay with exponential backoff, reattaches
// every live subscription, and notifies reconnect listeners. It gives up
// only when the transport shuts down.
func (t *nostrTransport) reconnect(url string) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = reconnectInitialInterval
	expBackoff.MaxInterval = reconnectMaxInterval

	relay, err := backoff.Retry(t.ctx, func() (*nostr.Relay, error) {
		return nostr.RelayConnect(t.ctx, url)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugf("Retrying relay %s after %v: %v", url, duration, err)
		}),
	)
	if err != nil {
		// Only reachable when the transport context is cancelled.
		logger.Debugf("Stopped reconnecting to relay %s: %v", url, err)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = relay.Close()
		return
	}
	t.relays[url] = relay
	subs := make([]*poolSubscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	fns := make([]func(), len(t.reconnectFns))
	copy(fns, t.reconnectFns)
	t.mu.Unlock()

	for _, s := range subs {
		t.attach(s, url, relay)
	}
	t.watchConnection(url, relay)

	logger.Infof("Reconnected to relay %s", url)
	for _, fn := range fns {
		fn()
	}
}

// attach opens the subscription on one relay and pumps its events into the
// handler, deduplicating across relays.
func (t *nostrTransport) attach(s *poolSubscription, url string, relay *nostr.Relay) {
	sub, err := relay.Subscribe(t.ctx, nostr.Filters{s.filter})
	if err != nil {
		logger.Warnf("Failed to subscribe on relay %s: %v", url, err)
		return
	}

	s.mu.Lock()
	s.active[url] = sub
	s.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for evt := range sub.Events {
			if !s.seen.Observe(evt.ID) {
				continue
			}
			s.handler(evt)
		}
	}()
}

// Publish fans the event out to every connected relay. One acceptance is
// enough to succeed.
func (t *nostrTransport) Publish(ctx context.Context, evt *nostr.Event) error {
	relays := t.snapshotRelays()
	if len(relays) == 0 {
		return ErrNoRelays
	}

	var (
		mu        sync.Mutex
		published int
		failures  []error
	)

	g, ctx := errgroup.WithContext(ctx)
	for url, relay := range relays {
		url, relay := url, relay
		g.Go(func() error {
			if err := relay.Publish(ctx, *evt); err != nil {
				logger.Debugf("Failed to publish event %s to %s: %v", evt.ID, url, err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", url, err))
				mu.Unlock()
				return nil // Don't fail the entire operation
			}
			mu.Lock()
			published++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	if published == 0 {
		return fmt.Errorf("failed to publish event %s to any relay: %w", evt.ID, errors.Join(failures...))
	}
	return nil
}

// Subscribe registers a pool-wide subscription.
func (t *nostrTransport) Subscribe(filter nostr.Filter, handler func(*nostr.Event)) (string, error) {
	s := newPoolSubscription(filter, handler)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrTransportClosed
	}
	t.subs[s.id] = s
	relays := make(map[string]*nostr.Relay, len(t.relays))
	for url, relay := range t.relays {
		relays[url] = relay
	}
	t.mu.Unlock()

	for url, relay := range relays {
		t.attach(s, url, relay)
	}

	return s.id, nil
}

// Unsubscribe tears down a subscription created by Subscribe.
func (t *nostrTransport) Unsubscribe(id string) {
	t.mu.Lock()
	s, ok := t.subs[id]
	delete(t.subs, id)
	t.mu.Unlock()

	if ok {
		s.unsubAll()
	}
}

// Query collects stored events matching the filter from every pooled relay,
// deduplicated by event id. Per-relay failures are logged and skipped.
func (t *nostrTransport) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	relays := t.snapshotRelays()
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	var mu sync.Mutex
	byID := make(map[string]*nostr.Event)

	g, ctx := errgroup.WithContext(ctx)
	for url, relay := range relays {
		url, relay := url, relay
		g.Go(func() error {
			events, err := relay.QuerySync(ctx, filter)
			if err != nil {
				logger.Debugf("Query on relay %s failed: %v", url, err)
				return nil // Don't fail the entire operation
			}
			mu.Lock()
			for _, evt := range events {
				byID[evt.ID] = evt
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	out := make([]*nostr.Event, 0, len(byID))
	for _, evt := range byID {
		out = append(out, evt)
	}
	return out, nil
}

// Watch subscribes to the filter on an ad-hoc relay set. Pooled relays are
// reused; unknown relays are dialed for the watch's lifetime. Ad-hoc
// connections are not re-established on drop: watches are short-lived and
// bounded by their caller's deadline.
func (t *nostrTransport) Watch(
	ctx context.Context,
	urls []string,
	filter nostr.Filter,
	handler func(*nostr.Event),
) (func(), error) {
	w := newPoolSubscription(filter, handler)
	var adhoc []*nostr.Relay

	for _, raw := range urls {
		url := nostr.NormalizeURL(raw)

		t.mu.RLock()
		relay, pooled := t.relays[url]
		t.mu.RUnlock()

		if !pooled {
			var err error
			relay, err = nostr.RelayConnect(ctx, url)
			if err != nil {
				logger.Debugf("Watch: failed to connect to relay %s: %v", url, err)
				continue
			}
			adhoc = append(adhoc, relay)
		}

		t.attach(w, url, relay)
	}

	w.mu.Lock()
	attached := len(w.active)
	w.mu.Unlock()
	if attached == 0 {
		for _, relay := range adhoc {
			_ = relay.Close()
		}
		return nil, fmt.Errorf("%w: no watch relay reachable", ErrNoRelays)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			w.unsubAll()
			for _, relay := range adhoc {
				_ = relay.Close()
			}
		})
	}
	return stop, nil
}

// OnReconnect registers a callback for re-established relay connections.
func (t *nostrTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectFns = append(t.reconnectFns, fn)
}

// URLs returns the configured relay URLs.
func (t *nostrTransport) URLs() []string {
	out := make([]string, len(t.urls))
	copy(out, t.urls)
	return out
}

// Close tears down every subscription and relay connection and waits for the
// event pumps to drain.
func (t *nostrTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*poolSubscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	relays := make([]*nostr.Relay, 0, len(t.relays))
	for _, relay := range t.relays {
		relays = append(relays, relay)
	}
	t.subs = make(map[string]*poolSubscription)
	t.relays = make(map[string]*nostr.Relay)
	t.mu.Unlock()

	t.cancel()
	for _, s := range subs {
		s.unsubAll()
	}
	for _, relay := range relays {
		_ = relay.Close()
	}
	t.wg.Wait()

	return nil
}

func (t *nostrTransport) snapshotRelays() map[string]*nostr.Relay {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*nostr.Relay, len(t.relays))
	for url, relay := range t.relays {
		out[url] = relay
	}
	return out
}
