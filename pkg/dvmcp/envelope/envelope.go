// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package envelope implements NIP-59 gift wrapping for DVMCP traffic.
//
// An encrypted message is three nested events: the rumor (the unsigned
// logical event), a kind 13 seal signed by the real sender that carries the
// NIP-44 encrypted rumor, and a kind 1059 gift wrap signed by a throwaway
// key that carries the encrypted seal. Only the wrap is visible to relays,
// so neither the sender identity nor the payload leaks.
//
// The wrap and seal are built directly on the NIP-44 primitives rather than
// a higher-level helper: the seal signer is the authenticated sender, and
// keeping both layers explicit is what lets Unwrap enforce that the rumor's
// claimed author matches it.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/identity"
)

// maxTimestampAge bounds the random backdating applied to seal and wrap
// timestamps, per NIP-59.
const maxTimestampAge = 2 * 24 * time.Hour

var (
	// ErrNotForUs indicates a gift wrap that this key cannot open. These are
	// dropped without a response: answering would reveal the key holder is
	// listening.
	ErrNotForUs = errors.New("gift wrap not addressed to this key")

	// ErrMalformed indicates a gift wrap that opened but failed validation:
	// wrong inner kinds, a bad seal signature, or a rumor whose claimed
	// author differs from the seal signer.
	ErrMalformed = errors.New("malformed gift wrap")
)

// Wrapper wraps and unwraps gift-wrapped events for one keypair.
type Wrapper struct {
	identity *identity.Manager
}

// New creates a Wrapper around the given identity.
func New(id *identity.Manager) *Wrapper {
	return &Wrapper{identity: id}
}

// randomPastTimestamp returns a timestamp backdated by a random amount up to
// maxTimestampAge, hiding the true send time from relays.
func randomPastTimestamp() nostr.Timestamp {
	offset := time.Duration(rand.Int64N(int64(maxTimestampAge)))
	return nostr.Timestamp(time.Now().Add(-offset).Unix())
}

// Wrap seals and wraps a rumor for the given recipient. The rumor must carry
// the wrapper identity's public key; it gets its id computed but stays
// unsigned, per NIP-59.
func (w *Wrapper) Wrap(rumor *nostr.Event, recipientPublicKey string) (*nostr.Event, error) {
	rumor.Sig = ""
	rumor.ID = rumor.GetID()
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rumor: %w", err)
	}

	sealKey, err := w.identity.ConversationKey(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	sealContent, err := nip44.Encrypt(string(rumorJSON), sealKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt rumor: %w", err)
	}

	seal := &nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      dvmcp.KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealContent,
	}
	if err := w.identity.Sign(seal); err != nil {
		return nil, fmt.Errorf("failed to sign seal: %w", err)
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode seal: %w", err)
	}

	// The wrap is signed by a single-use key so relays cannot link wraps
	// from the same sender.
	wrapSecret := nostr.GeneratePrivateKey()
	wrapKey, err := nip44.GenerateConversationKey(recipientPublicKey, wrapSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wrap key: %w", err)
	}
	wrapContent, err := nip44.Encrypt(string(sealJSON), wrapKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt seal: %w", err)
	}

	wrap := &nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      dvmcp.KindGiftWrap,
		Tags:      nostr.Tags{{dvmcp.TagPubkey, recipientPublicKey}},
		Content:   wrapContent,
	}
	if err := wrap.Sign(wrapSecret); err != nil {
		return nil, fmt.Errorf("failed to sign wrap: %w", err)
	}
	return wrap, nil
}

// Unwrap opens a gift wrap addressed to the wrapper identity and returns the
// rumor. The rumor's PubKey is the authenticated sender: it is checked
// against the seal signature, so callers can trust it even though the rumor
// itself is unsigned.
func (w *Wrapper) Unwrap(wrap *nostr.Event) (*nostr.Event, error) {
	if wrap.Kind != dvmcp.KindGiftWrap {
		return nil, fmt.Errorf("%w: kind %d is not a gift wrap", ErrMalformed, wrap.Kind)
	}

	wrapKey, err := w.identity.ConversationKey(wrap.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sealJSON, err := nip44.Decrypt(wrap.Content, wrapKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotForUs, err)
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, fmt.Errorf("%w: seal is not an event: %v", ErrMalformed, err)
	}
	if seal.Kind != dvmcp.KindSeal {
		return nil, fmt.Errorf("%w: inner kind %d is not a seal", ErrMalformed, seal.Kind)
	}
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return nil, fmt.Errorf("%w: seal signature does not verify", ErrMalformed)
	}

	sealKey, err := w.identity.ConversationKey(seal.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rumorJSON, err := nip44.Decrypt(seal.Content, sealKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotForUs, err)
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, fmt.Errorf("%w: rumor is not an event: %v", ErrMalformed, err)
	}
	// The rumor is unsigned; its author claim is only as good as the seal
	// around it.
	if rumor.PubKey != seal.PubKey {
		return nil, fmt.Errorf("%w: rumor author %s does not match seal signer %s",
			ErrMalformed, rumor.PubKey, seal.PubKey)
	}
	if rumor.ID != "" && rumor.ID != rumor.GetID() {
		return nil, fmt.Errorf("%w: rumor id does not match its contents", ErrMalformed)
	}
	if rumor.ID == "" {
		rumor.ID = rumor.GetID()
	}
	return &rumor, nil
}
