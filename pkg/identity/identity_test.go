// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity_test

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/identity"
)

func TestNewManager(t *testing.T) {
	t.Parallel()

	hexKey := nostr.GeneratePrivateKey()
	nsecKey, err := nip19.EncodePrivateKey(hexKey)
	require.NoError(t, err)
	wantPub, err := nostr.GetPublicKey(hexKey)
	require.NoError(t, err)

	tests := []struct {
		name          string
		key           string
		expectError   bool
		errorContains string
	}{
		{
			name: "hex key",
			key:  hexKey,
		},
		{
			name: "nsec key",
			key:  nsecKey,
		},
		{
			name: "hex key with surrounding whitespace",
			key:  "  " + hexKey + "\n",
		},
		{
			name:          "empty key",
			key:           "",
			expectError:   true,
			errorContains: "empty",
		},
		{
			name:          "truncated hex",
			key:           hexKey[:40],
			expectError:   true,
			errorContains: "64 hex characters",
		},
		{
			name:          "not hex",
			key:           "zz" + hexKey[2:],
			expectError:   true,
			errorContains: "not valid hex",
		},
		{
			name:          "garbage nsec",
			key:           "nsec1notarealkey",
			expectError:   true,
			errorContains: "failed to decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mgr, err := identity.NewManager(tt.key)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, wantPub, mgr.PublicKey())
		})
	}
}

func TestSignProducesValidSignature(t *testing.T) {
	t.Parallel()

	mgr, err := identity.Generate()
	require.NoError(t, err)

	evt := mgr.NewEvent(dvmcp.KindResponse, nostr.Tags{{"p", "deadbeef"}}, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	require.Equal(t, mgr.PublicKey(), evt.PubKey)
	require.NotZero(t, evt.CreatedAt)

	require.NoError(t, mgr.Sign(evt))
	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.Sig)

	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConversationKeyIsShared(t *testing.T) {
	t.Parallel()

	alice, err := identity.Generate()
	require.NoError(t, err)
	bob, err := identity.Generate()
	require.NoError(t, err)

	aliceKey, err := alice.ConversationKey(bob.PublicKey())
	require.NoError(t, err)
	bobKey, err := bob.ConversationKey(alice.PublicKey())
	require.NoError(t, err)

	assert.Equal(t, aliceKey, bobKey, "both sides must derive the same conversation key")
}

func TestNpub(t *testing.T) {
	t.Parallel()

	mgr, err := identity.Generate()
	require.NoError(t, err)

	npub, err := mgr.Npub()
	require.NoError(t, err)
	assert.Contains(t, npub, "npub1")
}
