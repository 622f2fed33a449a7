// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes validation. Tests mutate
// the copy to produce specific failures.
func validConfig() *Config {
	cfg := &Config{
		Name: "test-bridge",
		Nostr: NostrConfig{
			PrivateKeyEnv: "TEST_KEY",
			PrivateKey:    "deadbeef",
			Relays:        []string{"wss://relay.example.com"},
		},
		Providers: []ProviderConfig{
			{Name: "everything", Command: "npx"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		mutate        func(*Config)
		expectError   bool
		errorContains string
	}{
		{
			name:   "valid configuration",
			mutate: func(*Config) {},
		},
		{
			name:          "missing name",
			mutate:        func(c *Config) { c.Name = "" },
			expectError:   true,
			errorContains: "name is required",
		},
		{
			name:          "missing private key env",
			mutate:        func(c *Config) { c.Nostr.PrivateKeyEnv = "" },
			expectError:   true,
			errorContains: "private_key_env is required",
		},
		{
			name:          "unresolved private key",
			mutate:        func(c *Config) { c.Nostr.PrivateKey = "" },
			expectError:   true,
			errorContains: "TEST_KEY is not set",
		},
		{
			name:          "no relays",
			mutate:        func(c *Config) { c.Nostr.Relays = nil },
			expectError:   true,
			errorContains: "at least one relay",
		},
		{
			name:          "bad relay scheme",
			mutate:        func(c *Config) { c.Nostr.Relays = []string{"https://not-a-relay.example.com"} },
			expectError:   true,
			errorContains: "ws:// or wss://",
		},
		{
			name:          "no providers",
			mutate:        func(c *Config) { c.Providers = nil },
			expectError:   true,
			errorContains: "at least one MCP server",
		},
		{
			name: "duplicate provider names",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, ProviderConfig{Name: "everything", Command: "uvx"})
			},
			expectError:   true,
			errorContains: "duplicated",
		},
		{
			name: "provider missing command",
			mutate: func(c *Config) {
				c.Providers[0].Command = ""
			},
			expectError:   true,
			errorContains: "command is required",
		},
		{
			name: "invalid encryption mode",
			mutate: func(c *Config) {
				c.Encryption.Mode = "sometimes"
			},
			expectError:   true,
			errorContains: "encryption.mode",
		},
		{
			name: "priced capability without payment config",
			mutate: func(c *Config) {
				c.Providers[0].Pricing = &PricingConfig{
					Tools: []PriceEntry{{Name: "echo", Amount: 100, Unit: "sats"}},
				}
			},
			expectError:   true,
			errorContains: "payment configuration is required",
		},
		{
			name: "priced capability with payment config",
			mutate: func(c *Config) {
				c.Providers[0].Pricing = &PricingConfig{
					Tools: []PriceEntry{{Name: "echo", Amount: 100, Unit: "sats"}},
				}
				c.Payment = &PaymentConfig{LightningAddress: "bridge@getalby.com"}
				ApplyDefaults(c)
			},
		},
		{
			name: "negative price",
			mutate: func(c *Config) {
				c.Providers[0].Pricing = &PricingConfig{
					Tools: []PriceEntry{{Name: "echo", Amount: -1, Unit: "sats"}},
				}
				c.Payment = &PaymentConfig{LightningAddress: "bridge@getalby.com"}
				ApplyDefaults(c)
			},
			expectError:   true,
			errorContains: "must not be negative",
		},
		{
			name: "pricing entry without a name",
			mutate: func(c *Config) {
				c.Providers[0].Pricing = &PricingConfig{
					Prompts: []PriceEntry{{Amount: 10}},
				}
				c.Payment = &PaymentConfig{LightningAddress: "bridge@getalby.com"}
				ApplyDefaults(c)
			},
			expectError:   true,
			errorContains: "missing a name",
		},
		{
			name: "bad lightning address",
			mutate: func(c *Config) {
				c.Payment = &PaymentConfig{LightningAddress: "not-an-address"}
				ApplyDefaults(c)
			},
			expectError:   true,
			errorContains: "user@domain",
		},
		{
			name: "bad zap relay scheme",
			mutate: func(c *Config) {
				c.Payment = &PaymentConfig{
					LightningAddress: "bridge@getalby.com",
					ZapRelays:        []string{"http://zaps.example.com"},
				}
				ApplyDefaults(c)
			},
			expectError:   true,
			errorContains: "zap_relays",
		},
		{
			name: "whitelist pubkey wrong length",
			mutate: func(c *Config) {
				c.Whitelist.AllowedPubkeys = []string{"tooshort"}
			},
			expectError:   true,
			errorContains: "64 hex characters",
		},
		{
			name: "whitelist pubkey not hex",
			mutate: func(c *Config) {
				c.Whitelist.AllowedPubkeys = []string{strings.Repeat("z", 64)}
			},
			expectError:   true,
			errorContains: "not valid hex",
		},
		{
			name: "valid whitelist",
			mutate: func(c *Config) {
				c.Whitelist.AllowedPubkeys = []string{strings.Repeat("ab", 32)}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator().Validate(cfg)
			if tt.expectError {
				require.Error(t, err)
				require.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestValidator_NilConfig(t *testing.T) {
	t.Parallel()

	err := NewValidator().Validate(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
