// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stacklok/dvmcp/pkg/env"
)

// writeConfigFile writes yaml to a temp file and returns its path.
func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestYAMLLoader_Load(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		envVars map[string]string
		want    func(*testing.T, *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid minimal configuration",
			yaml: `
name: test-bridge
nostr:
  private_key_env: TEST_NOSTR_KEY
  relays:
    - wss://relay.example.com
providers:
  - name: everything
    command: npx
    args: ["-y", "@modelcontextprotocol/server-everything"]
`,
			envVars: map[string]string{"TEST_NOSTR_KEY": "abc123"},
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Name != "test-bridge" {
					t.Errorf("Name = %v, want test-bridge", cfg.Name)
				}
				if cfg.Nostr.PrivateKey != "abc123" {
					t.Errorf("PrivateKey = %v, want abc123", cfg.Nostr.PrivateKey)
				}
				if len(cfg.Providers) != 1 || cfg.Providers[0].Command != "npx" {
					t.Errorf("Providers = %+v, want one npx provider", cfg.Providers)
				}
				if cfg.Encryption.Mode != EncryptionOptional {
					t.Errorf("Encryption.Mode = %v, want optional default", cfg.Encryption.Mode)
				}
				if time.Duration(cfg.Limits.CallTimeout) != DefaultCallTimeout {
					t.Errorf("CallTimeout = %v, want default %v", cfg.Limits.CallTimeout, DefaultCallTimeout)
				}
			},
		},
		{
			name: "pricing and payment configuration",
			yaml: `
name: paid-bridge
nostr:
  private_key_env: TEST_NOSTR_KEY
  relays:
    - wss://relay.example.com
providers:
  - name: tools
    command: ./server
    pricing:
      tools:
        - name: expensive-tool
          amount: 100
      resources:
        - uri: file:///data.txt
          amount: 21
          unit: sats
payment:
  lightning_address: bridge@getalby.com
  zap_relays:
    - wss://zaps.example.com
  timeout: 90s
`,
			envVars: map[string]string{"TEST_NOSTR_KEY": "abc123"},
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				pricing := cfg.Providers[0].Pricing
				if pricing == nil {
					t.Fatal("Pricing = nil, want populated")
				}
				if pricing.Tools[0].Unit != "sats" {
					t.Errorf("Tools[0].Unit = %v, want sats default", pricing.Tools[0].Unit)
				}
				if pricing.Resources[0].Amount != 21 {
					t.Errorf("Resources[0].Amount = %v, want 21", pricing.Resources[0].Amount)
				}
				if time.Duration(cfg.Payment.Timeout) != 90*time.Second {
					t.Errorf("Payment.Timeout = %v, want 90s", cfg.Payment.Timeout)
				}
				if !cfg.HasPricedCapabilities() {
					t.Error("HasPricedCapabilities() = false, want true")
				}
			},
		},
		{
			name: "default payment timeout",
			yaml: `
name: paid-bridge
nostr:
  private_key_env: TEST_NOSTR_KEY
  relays: [wss://relay.example.com]
providers:
  - name: tools
    command: ./server
payment:
  lightning_address: bridge@getalby.com
`,
			envVars: map[string]string{"TEST_NOSTR_KEY": "abc123"},
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				if time.Duration(cfg.Payment.Timeout) != DefaultPaymentTimeout {
					t.Errorf("Payment.Timeout = %v, want default %v", cfg.Payment.Timeout, DefaultPaymentTimeout)
				}
			},
		},
		{
			name: "unset key environment variable resolves empty",
			yaml: `
name: test-bridge
nostr:
  private_key_env: MISSING_VAR
  relays: [wss://relay.example.com]
providers:
  - name: p
    command: ./server
`,
			want: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Nostr.PrivateKey != "" {
					t.Errorf("PrivateKey = %q, want empty", cfg.Nostr.PrivateKey)
				}
			},
		},
		{
			name:    "malformed yaml",
			yaml:    "name: [unclosed",
			wantErr: true,
			errMsg:  "failed to parse",
		},
		{
			name: "bad duration string",
			yaml: `
name: test-bridge
nostr:
  private_key_env: TEST_NOSTR_KEY
  relays: [wss://relay.example.com]
providers:
  - name: p
    command: ./server
limits:
  call_timeout: banana
`,
			wantErr: true,
			errMsg:  "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfigFile(t, tt.yaml)
			loader := NewYAMLLoaderWithEnv(path, &env.MapReader{Env: tt.envVars})

			cfg, err := loader.Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() error = nil, want error")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Load() error = %v, want containing %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.want(t, cfg)
		})
	}
}

func TestYAMLLoader_LoadMissingFile(t *testing.T) {
	t.Parallel()

	loader := NewYAMLLoader(filepath.Join(t.TempDir(), "nope.yml"))
	_, err := loader.Load()
	if err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("Load() error = %v, want read failure", err)
	}
}
