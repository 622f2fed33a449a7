// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package payment gates priced capabilities behind Lightning invoices and
// the zap receipts that prove they were paid.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/stacklok/dvmcp/pkg/logger"
)

// httpTimeout bounds each LNURL endpoint round trip.
const httpTimeout = 30 * time.Second

// Receiver resolves Lightning invoices for priced capabilities.
type Receiver interface {
	// Invoice returns a bolt11 invoice for the given amount in sats. The zap
	// request, when non-nil, is forwarded so the receiving service publishes
	// a zap receipt once the invoice settles.
	Invoice(ctx context.Context, amountSats int64, zapRequest *nostr.Event) (string, error)

	// ReceiptPubkey returns the key the receiving service signs zap receipts
	// with, or "" when the service does not support them.
	ReceiptPubkey(ctx context.Context) (string, error)
}

// payEndpoint is the LUD-16 pay endpoint descriptor served from the
// receiver's .well-known path.
type payEndpoint struct {
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	AllowsNostr bool   `json:"allowsNostr"`
	NostrPubkey string `json:"nostrPubkey"`
}

// invoiceResponse is the pay endpoint's answer to an invoice request.
type invoiceResponse struct {
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
	PR     string `json:"pr"`
}

// lnurlReceiver implements Receiver against a LUD-16 Lightning address
// (user@domain). The endpoint descriptor is fetched fresh for every invoice
// so callback or bound changes on the receiving service take effect without
// a bridge restart.
type lnurlReceiver struct {
	user   string
	domain string

	httpClient *http.Client

	// wellKnownURL builds the pay endpoint URL. Overridable in tests.
	wellKnownURL func(domain, user string) string
}

// NewLNURLReceiver creates a Receiver for the given Lightning address.
func NewLNURLReceiver(address string) (Receiver, error) {
	user, domain, ok := strings.Cut(strings.TrimSpace(address), "@")
	if !ok || user == "" || domain == "" {
		return nil, fmt.Errorf("lightning address %q is not in user@domain form", address)
	}
	return &lnurlReceiver{
		user:       user,
		domain:     domain,
		httpClient: &http.Client{Timeout: httpTimeout},
		wellKnownURL: func(domain, user string) string {
			return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, user)
		},
	}, nil
}

// Invoice performs the two-step LNURL pay exchange: fetch the endpoint
// descriptor, then request an invoice for the amount from its callback.
func (r *lnurlReceiver) Invoice(ctx context.Context, amountSats int64, zapRequest *nostr.Event) (string, error) {
	endpoint, err := r.fetchEndpoint(ctx)
	if err != nil {
		return "", err
	}

	amountMsat := amountSats * 1000
	if endpoint.MinSendable > 0 && amountMsat < endpoint.MinSendable {
		return "", fmt.Errorf("amount %d msat is below the receiver's minimum %d msat", amountMsat, endpoint.MinSendable)
	}
	if endpoint.MaxSendable > 0 && amountMsat > endpoint.MaxSendable {
		return "", fmt.Errorf("amount %d msat is above the receiver's maximum %d msat", amountMsat, endpoint.MaxSendable)
	}

	params := url.Values{}
	params.Set("amount", strconv.FormatInt(amountMsat, 10))
	if zapRequest != nil {
		if endpoint.AllowsNostr {
			encoded, err := json.Marshal(zapRequest)
			if err != nil {
				return "", fmt.Errorf("failed to encode zap request: %w", err)
			}
			params.Set("nostr", string(encoded))
		} else {
			logger.Warnf("Receiver %s@%s does not support zap requests; receipts will not be published",
				r.user, r.domain)
		}
	}

	separator := "?"
	if strings.Contains(endpoint.Callback, "?") {
		separator = "&"
	}
	callbackURL := endpoint.Callback + separator + params.Encode()

	var invoice invoiceResponse
	if err := r.getJSON(ctx, callbackURL, &invoice); err != nil {
		return "", fmt.Errorf("failed to request invoice: %w", err)
	}
	if strings.EqualFold(invoice.Status, "ERROR") {
		return "", fmt.Errorf("receiver refused the invoice request: %s", invoice.Reason)
	}
	if invoice.PR == "" {
		return "", fmt.Errorf("receiver returned no invoice")
	}
	return invoice.PR, nil
}

// ReceiptPubkey returns the service's zap receipt signing key from the
// endpoint descriptor.
func (r *lnurlReceiver) ReceiptPubkey(ctx context.Context) (string, error) {
	endpoint, err := r.fetchEndpoint(ctx)
	if err != nil {
		return "", err
	}
	if !endpoint.AllowsNostr {
		return "", nil
	}
	return endpoint.NostrPubkey, nil
}

// fetchEndpoint retrieves and validates the LUD-16 endpoint descriptor.
func (r *lnurlReceiver) fetchEndpoint(ctx context.Context) (*payEndpoint, error) {
	var endpoint payEndpoint
	if err := r.getJSON(ctx, r.wellKnownURL(r.domain, r.user), &endpoint); err != nil {
		return nil, fmt.Errorf("failed to resolve lightning address %s@%s: %w", r.user, r.domain, err)
	}
	if strings.EqualFold(endpoint.Status, "ERROR") {
		return nil, fmt.Errorf("lightning address %s@%s: %s", r.user, r.domain, endpoint.Reason)
	}
	if endpoint.Callback == "" {
		return nil, fmt.Errorf("lightning address %s@%s returned no callback", r.user, r.domain)
	}
	return &endpoint, nil
}

// getJSON performs one GET and decodes the JSON body into out.
func (r *lnurlReceiver) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}
