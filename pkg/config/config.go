// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration model for the DVMCP bridge.
//
// Configuration is loaded from a YAML file. Secret material is never stored
// in the file itself: the file names an environment variable and the loader
// resolves it through an env.Reader, so tests can inject values.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration was provided.
// Wrapping errors provide specific details about what is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// EncryptionMode controls how the bridge treats NIP-59 encrypted traffic.
type EncryptionMode string

const (
	// EncryptionDisabled ignores gift-wrapped events entirely.
	EncryptionDisabled EncryptionMode = "disabled"

	// EncryptionOptional accepts both plaintext and encrypted requests and
	// mirrors each sender's choice in the response. This is the default.
	EncryptionOptional EncryptionMode = "optional"

	// EncryptionRequired rejects plaintext requests with an error response
	// and only serves encrypted traffic.
	EncryptionRequired EncryptionMode = "required"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a
// duration string. This ensures duration values are serialized as "30s",
// "1m", etc. instead of nanosecond integers.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the configuration model for the DVMCP bridge.
type Config struct {
	// Name is the service name announced to the network.
	Name string `json:"name" yaml:"name"`

	// Version is the service version announced to the network. Defaults to
	// the build version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// About is a human-readable service description.
	About string `json:"about,omitempty" yaml:"about,omitempty"`

	// Picture is an optional icon URL included in announcements.
	Picture string `json:"picture,omitempty" yaml:"picture,omitempty"`

	// Website is an optional website URL included in announcements.
	Website string `json:"website,omitempty" yaml:"website,omitempty"`

	// ServerID is the stable server identifier used in announcement "d" tags
	// and request "s" tags. When empty, an identifier is derived from the
	// bridge's public key.
	ServerID string `json:"server_id,omitempty" yaml:"server_id,omitempty"`

	// Instructions is optional usage guidance returned from initialize.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	// Nostr configures the bridge's network identity and relay set.
	Nostr NostrConfig `json:"nostr" yaml:"nostr"`

	// Providers lists the local MCP servers the bridge exposes.
	Providers []ProviderConfig `json:"providers" yaml:"providers"`

	// Encryption configures NIP-59 gift wrap handling.
	Encryption EncryptionConfig `json:"encryption,omitempty" yaml:"encryption,omitempty"`

	// Payment configures Lightning payment gating. Required when any
	// provider declares a priced capability.
	Payment *PaymentConfig `json:"payment,omitempty" yaml:"payment,omitempty"`

	// Whitelist restricts which sender public keys are served. An empty
	// list serves everyone.
	Whitelist WhitelistConfig `json:"whitelist,omitempty" yaml:"whitelist,omitempty"`

	// Limits bounds provider connect and call durations.
	Limits LimitsConfig `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// NostrConfig configures the bridge's keypair and relay connections.
type NostrConfig struct {
	// PrivateKeyEnv names the environment variable holding the bridge's
	// private key (hex or nsec). The key itself never appears in the file.
	PrivateKeyEnv string `json:"private_key_env" yaml:"private_key_env"`

	// PrivateKey is the resolved key material. Populated by the loader,
	// never serialized.
	PrivateKey string `json:"-" yaml:"-"`

	// Relays lists the relay websocket URLs the bridge connects to.
	Relays []string `json:"relays" yaml:"relays"`
}

// ProviderConfig describes one local MCP server process.
type ProviderConfig struct {
	// Name is the human-readable provider name.
	Name string `json:"name" yaml:"name"`

	// Command is the executable that speaks MCP over stdio.
	Command string `json:"command" yaml:"command"`

	// Args are passed to the command.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env sets additional environment variables for the process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Pricing declares per-capability prices. Capabilities without an entry
	// are free.
	Pricing *PricingConfig `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// PricingConfig is a provider's declared price list.
type PricingConfig struct {
	// Tools prices tool invocations by tool name.
	Tools []PriceEntry `json:"tools,omitempty" yaml:"tools,omitempty"`

	// Prompts prices prompt retrievals by prompt name.
	Prompts []PriceEntry `json:"prompts,omitempty" yaml:"prompts,omitempty"`

	// Resources prices resource reads by URI or template pattern.
	Resources []ResourcePriceEntry `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// PriceEntry prices a named capability.
type PriceEntry struct {
	Name   string `json:"name" yaml:"name"`
	Amount int64  `json:"amount" yaml:"amount"`
	Unit   string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// ResourcePriceEntry prices a resource by URI.
type ResourcePriceEntry struct {
	URI    string `json:"uri" yaml:"uri"`
	Amount int64  `json:"amount" yaml:"amount"`
	Unit   string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// EncryptionConfig configures NIP-59 gift wrap handling.
type EncryptionConfig struct {
	// Mode is one of disabled, optional, required.
	Mode EncryptionMode `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Enabled reports whether the bridge accepts encrypted traffic at all.
func (e EncryptionConfig) Enabled() bool {
	return e.Mode != EncryptionDisabled
}

// PaymentConfig configures Lightning payment gating.
type PaymentConfig struct {
	// LightningAddress is the LUD-16 address (user@domain) that receives
	// payments for priced capabilities.
	LightningAddress string `json:"lightning_address" yaml:"lightning_address"`

	// ZapRelays lists extra relays watched for proof-of-payment receipts,
	// on top of the receiver's own published relay list.
	ZapRelays []string `json:"zap_relays,omitempty" yaml:"zap_relays,omitempty"`

	// Timeout bounds how long a gated request waits for its proof of
	// payment before being dropped.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WhitelistConfig restricts which senders are served.
type WhitelistConfig struct {
	// AllowedPubkeys lists hex sender public keys. Empty means open access.
	AllowedPubkeys []string `json:"allowed_pubkeys,omitempty" yaml:"allowed_pubkeys,omitempty"`
}

// LimitsConfig bounds provider interactions.
type LimitsConfig struct {
	// ConnectTimeout bounds each provider's startup and handshake.
	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`

	// CallTimeout bounds each capability invocation. Zero disables the bound.
	CallTimeout Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`

	// ListTimeout bounds registry refresh queries.
	ListTimeout Duration `json:"list_timeout,omitempty" yaml:"list_timeout,omitempty"`
}

// HasPricedCapabilities reports whether any provider declares a non-zero
// price for any capability.
func (c *Config) HasPricedCapabilities() bool {
	for _, p := range c.Providers {
		if p.Pricing == nil {
			continue
		}
		for _, e := range p.Pricing.Tools {
			if e.Amount > 0 {
				return true
			}
		}
		for _, e := range p.Pricing.Prompts {
			if e.Amount > 0 {
				return true
			}
		}
		for _, e := range p.Pricing.Resources {
			if e.Amount > 0 {
				return true
			}
		}
	}
	return false
}
