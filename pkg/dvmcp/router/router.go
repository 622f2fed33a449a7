// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router implements the bridge's top-level request state machine.
//
// The router subscribes to request events addressed to the bridge's public
// key, runs each inbound event through a series of gates (decryption, server
// identifier, encryption policy, allow list), dispatches the decoded JSON-RPC
// method against the capability pool, and publishes the response. Priced
// capabilities pass through the payment gate before they execute.
//
// Every inbound event is handled in its own goroutine. A failure while
// handling one event, including a panic, never takes down the processing
// loop: the subscription stays live for subsequent events.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/stacklok/dvmcp/pkg/config"
	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/identity"
	"github.com/stacklok/dvmcp/pkg/logger"
)

// Bus is the slice of the event transport the router drives: inbound
// subscriptions and outbound publishes.
type Bus interface {
	Publish(ctx context.Context, evt *nostr.Event) error
	Subscribe(filter nostr.Filter, handler func(*nostr.Event)) (string, error)
	Unsubscribe(id string)
	OnReconnect(fn func())
}

// Enveloper unwraps inbound gift wraps and wraps outbound responses.
// Satisfied by envelope.Wrapper.
type Enveloper interface {
	Wrap(rumor *nostr.Event, recipientPublicKey string) (*nostr.Event, error)
	Unwrap(wrap *nostr.Event) (*nostr.Event, error)
}

// Charger blocks a priced invocation until its proof of payment arrives.
// Satisfied by payment.Gate.
type Charger interface {
	Charge(ctx context.Context, requestEventID string, price dvmcp.Price, notify func(invoice string, amountSats int64) error) error
}

// Options configures a Router.
type Options struct {
	// Identity signs outbound events and anchors the subscription filter.
	Identity *identity.Manager

	// Bus is the event transport.
	Bus Bus

	// Pool serves capability operations.
	Pool dvmcp.Pool

	// Wrapper handles NIP-59 envelopes. Required unless encryption is
	// disabled.
	Wrapper Enveloper

	// Gate enforces payment on priced capabilities. Nil means every
	// priced invocation is refused, so leave it nil only when nothing
	// carries a price.
	Gate Charger

	// ServerID is the identifier requests may target through their "s" tag.
	ServerID string

	// Encryption selects how gift wrapped traffic is treated. Defaults to
	// optional.
	Encryption config.EncryptionMode

	// AllowedPubkeys restricts service to the listed senders. Empty serves
	// everyone.
	AllowedPubkeys []string
}

// Router receives transport events and turns them into capability
// invocations and published responses.
type Router struct {
	opts    Options
	allowed map[string]bool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	subID   string
	stopped bool

	wg sync.WaitGroup
}

// New builds a router from the given collaborators.
func New(opts Options) *Router {
	if opts.Encryption == "" {
		opts.Encryption = config.EncryptionOptional
	}
	var allowed map[string]bool
	if len(opts.AllowedPubkeys) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedPubkeys))
		for _, pk := range opts.AllowedPubkeys {
			allowed[pk] = true
		}
	}
	return &Router{opts: opts, allowed: allowed}
}

// encryptionEnabled reports whether gift wrapped traffic is served at all.
func (r *Router) encryptionEnabled() bool {
	return r.opts.Encryption != config.EncryptionDisabled && r.opts.Wrapper != nil
}

// filter builds the subscription filter: request and notification kinds
// addressed to the bridge, plus gift wraps when encryption is on. The since
// cutoff starts at now so replayed history is never served.
func (r *Router) filter() nostr.Filter {
	kinds := []int{dvmcp.KindRequest, dvmcp.KindNotification}
	if r.encryptionEnabled() {
		kinds = append(kinds, dvmcp.KindGiftWrap)
	}
	since := nostr.Now()
	return nostr.Filter{
		Kinds: kinds,
		Tags:  nostr.TagMap{dvmcp.TagPubkey: []string{r.opts.Identity.PublicKey()}},
		Since: &since,
	}
}

// Start opens the inbound subscription and registers the reconnect hook.
// It returns once the subscription is live; event handling happens on
// background goroutines until Stop.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("router already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if err := r.resubscribe(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	r.opts.Bus.OnReconnect(func() {
		if err := r.resubscribe(); err != nil {
			logger.Errorf("Failed to re-establish subscription after reconnect: %v", err)
		}
	})

	logger.Infof("Listening for requests addressed to %s (server id %s)",
		r.opts.Identity.PublicKey(), r.opts.ServerID)
	return nil
}

// resubscribe replaces the live subscription with a fresh one so the since
// cutoff restarts at now. Subscribing before unsubscribing keeps the inbound
// window gap-free on reconnect.
func (r *Router) resubscribe() error {
	id, err := r.opts.Bus.Subscribe(r.filter(), r.handleAsync)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.subID
	r.subID = id
	r.mu.Unlock()
	if old != "" {
		r.opts.Bus.Unsubscribe(old)
	}
	return nil
}

// Stop tears down the subscription, cancels in-flight handlers, and waits
// for them to finish.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped || r.cancel == nil {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	sub := r.subID
	r.subID = ""
	r.mu.Unlock()

	if sub != "" {
		r.opts.Bus.Unsubscribe(sub)
	}
	cancel()
	r.wg.Wait()
}

// handleAsync is the subscription handler. Each event gets its own
// goroutine with panic recovery so one bad request cannot stall or kill the
// loop.
func (r *Router) handleAsync(evt *nostr.Event) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("Recovered from panic while handling event %s: %v", evt.ID, rec)
			}
		}()
		r.handleEvent(ctx, evt)
	}()
}

// requestContext carries the identity of one inbound request through the
// gates and into every publish for that request. Built per event, discarded
// when handling ends.
type requestContext struct {
	// eventID is the logical request event id: the rumor's id for wrapped
	// requests, never the wrap's.
	eventID string

	// sender is the real requester public key: the seal signer for wrapped
	// requests.
	sender string

	// encrypted records whether the request arrived gift wrapped. Responses
	// mirror it: wrapped in, wrapped out.
	encrypted bool
}

// handleEvent runs one inbound event through the gates and dispatches it.
func (r *Router) handleEvent(ctx context.Context, evt *nostr.Event) {
	logical := evt
	encrypted := false

	switch evt.Kind {
	case dvmcp.KindGiftWrap:
		if !r.encryptionEnabled() {
			return
		}
		rumor, err := r.opts.Wrapper.Unwrap(evt)
		if err != nil {
			// Not necessarily ours to read. No response of any kind.
			logger.Debugf("Dropping gift wrap %s: %v", evt.ID, err)
			return
		}
		if rumor.Kind != dvmcp.KindRequest && rumor.Kind != dvmcp.KindNotification {
			logger.Debugf("Dropping gift wrapped event %s with unexpected kind %d", rumor.ID, rumor.Kind)
			return
		}
		logical = rumor
		encrypted = true
	case dvmcp.KindRequest, dvmcp.KindNotification:
	default:
		return
	}

	// Requests addressed to another server are not ours to answer, and
	// answering would leak that this key is listening. Untargeted requests
	// are served; that is how discovery pings reach every bridge.
	if target := dvmcp.TagValue(logical, dvmcp.TagServer); target != "" && target != r.opts.ServerID {
		logger.Debugf("Dropping event %s addressed to server %s", logical.ID, target)
		return
	}

	rctx := &requestContext{
		eventID:   logical.ID,
		sender:    logical.PubKey,
		encrypted: encrypted,
	}

	req, rpcErr := dvmcp.ParseRequest([]byte(logical.Content))
	if rpcErr != nil {
		logger.Debugf("Rejecting malformed event %s: %v", logical.ID, rpcErr)
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(nil, rpcErr))
		return
	}

	if !encrypted && r.opts.Encryption == config.EncryptionRequired {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, dvmcp.NewRPCError(
			dvmcp.CodeInvalidRequest, "encryption required: this server only accepts gift wrapped requests")))
		return
	}

	if r.allowed != nil && !r.allowed[rctx.sender] {
		logger.Infof("Rejecting event %s from sender %s: not on the allow list", logical.ID, rctx.sender)
		if err := r.notify(ctx, rctx, dvmcp.StatusError, nil, "unauthorized: sender is not allowed"); err != nil {
			logger.Warnf("Failed to publish unauthorized notification for %s: %v", logical.ID, err)
		}
		return
	}

	r.dispatch(ctx, rctx, req)
}
