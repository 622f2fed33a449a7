// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/identity"
	"github.com/stacklok/dvmcp/pkg/logger"
)

// DefaultTimeout is how long a gated request waits for its proof of payment
// when the configuration does not say otherwise.
const DefaultTimeout = 5 * time.Minute

// ReceiptWatcher watches relays for zap receipts. Satisfied by the nostr
// transport.
type ReceiptWatcher interface {
	Watch(ctx context.Context, urls []string, filter nostr.Filter, handler func(*nostr.Event)) (func(), error)
}

// RelayListQuerier looks up stored events, used for the receiver's published
// relay list. Satisfied by the nostr transport.
type RelayListQuerier interface {
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Options configures the payment gate.
type Options struct {
	// Identity signs the zap requests embedded in invoice fetches.
	Identity *identity.Manager

	// Receiver resolves invoices, usually from a Lightning address.
	Receiver Receiver

	// Watcher observes relays for zap receipts.
	Watcher ReceiptWatcher

	// Querier resolves the receipt signer's relay list. Optional: without it
	// only the configured relays are watched.
	Querier RelayListQuerier

	// Relays are the configured candidate relays where receipts are
	// expected. The receipt signer's own published relay list is added on
	// first use.
	Relays []string

	// Timeout bounds the wait for a proof of payment. Zero means
	// DefaultTimeout.
	Timeout time.Duration
}

// Gate holds a priced request until its invoice is paid.
type Gate struct {
	opts Options

	// resolveOnce guards the one-time candidate relay resolution.
	resolveOnce sync.Once
	relays      []string
}

// NewGate creates a payment gate.
func NewGate(opts Options) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Gate{opts: opts}
}

// candidateRelays returns the relays watched for receipts: the configured
// set plus, best effort, the relays the receipt signer publishes to per its
// relay list event. Resolved once and reused for every charge.
func (g *Gate) candidateRelays(ctx context.Context) []string {
	g.resolveOnce.Do(func() {
		seen := make(map[string]bool, len(g.opts.Relays))
		relays := make([]string, 0, len(g.opts.Relays))
		for _, u := range g.opts.Relays {
			if !seen[u] {
				seen[u] = true
				relays = append(relays, u)
			}
		}

		for _, u := range g.receiverRelays(ctx) {
			if !seen[u] {
				seen[u] = true
				relays = append(relays, u)
			}
		}
		g.relays = relays
	})
	return g.relays
}

// receiverRelays looks up where the receipt signer publishes, from its
// kind 10002 relay list. Failures degrade to the configured relays only.
func (g *Gate) receiverRelays(ctx context.Context) []string {
	if g.opts.Querier == nil {
		return nil
	}

	pubkey, err := g.opts.Receiver.ReceiptPubkey(ctx)
	if err != nil {
		logger.Debugf("Failed to resolve receipt signer key: %v", err)
		return nil
	}
	if pubkey == "" {
		return nil
	}

	events, err := g.opts.Querier.Query(ctx, nostr.Filter{
		Kinds:   []int{dvmcp.KindRelayList},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil || len(events) == 0 {
		logger.Debugf("No relay list found for receipt signer %s", pubkey)
		return nil
	}

	var relays []string
	for _, tag := range events[0].Tags {
		if len(tag) < 2 || tag[0] != dvmcp.TagRelay {
			continue
		}
		// Receipts are written by the signer; read-only relays are no use.
		if len(tag) >= 3 && tag[2] == "read" {
			continue
		}
		relays = append(relays, tag[1])
	}
	logger.Debugf("Receipt signer %s publishes to %d relays", pubkey, len(relays))
	return relays
}

// Timeout returns the configured proof-of-payment wait bound.
func (g *Gate) Timeout() time.Duration {
	return g.opts.Timeout
}

// Charge resolves an invoice for the price, reports it through notify, and
// blocks until a matching zap receipt arrives or the timeout expires. The
// receipt watch is armed before notify runs so a receipt can never slip
// through between the notification and the subscription.
func (g *Gate) Charge(
	ctx context.Context,
	requestEventID string,
	price dvmcp.Price,
	notify func(invoice string, amountSats int64) error,
) error {
	if price.Unit != "" && price.Unit != dvmcp.UnitSats {
		return fmt.Errorf("%w: unsupported pricing unit %q", dvmcp.ErrInvalidInput, price.Unit)
	}

	relays := g.candidateRelays(ctx)
	zapRequest, err := g.buildZapRequest(requestEventID, price.Amount, relays)
	if err != nil {
		return err
	}

	invoice, err := g.opts.Receiver.Invoice(ctx, price.Amount, zapRequest)
	if err != nil {
		return fmt.Errorf("%w: %v", dvmcp.ErrPaymentRequired, err)
	}

	watchCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	since := nostr.Now()
	filter := nostr.Filter{
		Kinds: []int{dvmcp.KindZapReceipt},
		Since: &since,
	}

	paid := make(chan *nostr.Event, 1)
	var once sync.Once
	stop, err := g.opts.Watcher.Watch(watchCtx, relays, filter, func(evt *nostr.Event) {
		if dvmcp.TagValue(evt, dvmcp.TagBolt11) != invoice {
			return
		}
		once.Do(func() { paid <- evt })
	})
	if err != nil {
		return fmt.Errorf("failed to watch for payment receipts: %w", err)
	}
	defer stop()

	if err := notify(invoice, price.Amount); err != nil {
		return err
	}

	select {
	case receipt := <-paid:
		logger.Infof("Payment received for request %s: receipt %s", requestEventID, receipt.ID)
		return nil
	case <-watchCtx.Done():
		if errors.Is(watchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: no proof of payment for %d sats within %s",
				dvmcp.ErrPaymentRequired, price.Amount, g.opts.Timeout)
		}
		return fmt.Errorf("%w: %v", dvmcp.ErrCancelled, context.Cause(ctx))
	}
}

// buildZapRequest constructs the signed zap request forwarded to the
// receiving service. Its relays tag names the relays the gate watches, which
// is where the service publishes the receipt.
func (g *Gate) buildZapRequest(requestEventID string, amountSats int64, relays []string) (*nostr.Event, error) {
	relaysTag := append(nostr.Tag{dvmcp.TagRelays}, relays...)
	tags := nostr.Tags{
		relaysTag,
		{dvmcp.TagAmount, strconv.FormatInt(amountSats*1000, 10)},
		{dvmcp.TagPubkey, g.opts.Identity.PublicKey()},
		{dvmcp.TagEvent, requestEventID},
	}

	zapRequest := g.opts.Identity.NewEvent(dvmcp.KindZapRequest, tags, "")
	if err := g.opts.Identity.Sign(zapRequest); err != nil {
		return nil, fmt.Errorf("failed to sign zap request: %w", err)
	}
	return zapRequest, nil
}
