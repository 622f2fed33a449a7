// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity manages the bridge's Nostr keypair: decoding configured
// key material, signing outbound events, and deriving the conversation keys
// the encryption layer needs.
package identity

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Manager holds the bridge's signing key.
type Manager struct {
	privateKey string
	publicKey  string
}

// NewManager builds a Manager from configured private key material. Both
// 64-character hex and bech32 nsec encodings are accepted.
func NewManager(privateKey string) (*Manager, error) {
	sk := strings.TrimSpace(privateKey)
	if sk == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	if strings.HasPrefix(sk, "nsec1") {
		prefix, value, err := nip19.Decode(sk)
		if err != nil {
			return nil, fmt.Errorf("failed to decode nsec key: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("unexpected key prefix %q, want nsec", prefix)
		}
		decoded, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected nsec payload type %T", value)
		}
		sk = decoded
	}

	if len(sk) != 64 {
		return nil, fmt.Errorf("private key must be 64 hex characters, got %d", len(sk))
	}
	if _, err := hex.DecodeString(sk); err != nil {
		return nil, fmt.Errorf("private key is not valid hex: %w", err)
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &Manager{privateKey: sk, publicKey: pk}, nil
}

// Generate builds a Manager around a fresh random keypair.
func Generate() (*Manager, error) {
	return NewManager(nostr.GeneratePrivateKey())
}

// PublicKey returns the bridge's hex public key.
func (m *Manager) PublicKey() string {
	return m.publicKey
}

// Npub returns the bech32 npub encoding of the public key.
func (m *Manager) Npub() (string, error) {
	return nip19.EncodePublicKey(m.publicKey)
}

// NewEvent builds an unsigned event template authored by the bridge.
func (m *Manager) NewEvent(kind int, tags nostr.Tags, content string) *nostr.Event {
	return &nostr.Event{
		PubKey:    m.publicKey,
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// Sign computes the event id and signature in place.
func (m *Manager) Sign(evt *nostr.Event) error {
	return evt.Sign(m.privateKey)
}

// ConversationKey derives the NIP-44 conversation key shared with the given
// peer public key.
func (m *Manager) ConversationKey(peerPublicKey string) ([32]byte, error) {
	key, err := nip44.GenerateConversationKey(peerPublicKey, m.privateKey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return key, nil
}
