// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DefaultValidator implements comprehensive configuration validation.
type DefaultValidator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// Validate performs comprehensive validation of the configuration.
func (v *DefaultValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalidConfig)
	}

	var errs []string

	if err := v.validateBasicFields(cfg); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateNostr(&cfg.Nostr); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateProviders(cfg.Providers); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateEncryption(cfg.Encryption); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validatePayment(cfg); err != nil {
		errs = append(errs, err.Error())
	}
	if err := v.validateWhitelist(cfg.Whitelist); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

func (*DefaultValidator) validateBasicFields(cfg *Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func (*DefaultValidator) validateNostr(n *NostrConfig) error {
	if n.PrivateKeyEnv == "" {
		return fmt.Errorf("nostr.private_key_env is required")
	}
	if n.PrivateKey == "" {
		return fmt.Errorf("environment variable %s is not set or empty", n.PrivateKeyEnv)
	}

	if len(n.Relays) == 0 {
		return fmt.Errorf("nostr.relays must list at least one relay")
	}
	for _, r := range n.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("nostr.relays entry %q must be a ws:// or wss:// URL", r)
		}
	}

	return nil
}

func (*DefaultValidator) validateProviders(providers []ProviderConfig) error {
	if len(providers) == 0 {
		return fmt.Errorf("providers must list at least one MCP server")
	}

	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true

		if p.Command == "" {
			return fmt.Errorf("providers[%d] (%s): command is required", i, p.Name)
		}

		if p.Pricing != nil {
			if err := validatePricing(p.Pricing); err != nil {
				return fmt.Errorf("providers[%d] (%s): %w", i, p.Name, err)
			}
		}
	}

	return nil
}

func validatePricing(pricing *PricingConfig) error {
	for _, e := range pricing.Tools {
		if e.Name == "" {
			return fmt.Errorf("pricing.tools entry is missing a name")
		}
		if e.Amount < 0 {
			return fmt.Errorf("pricing.tools[%s].amount must not be negative", e.Name)
		}
	}
	for _, e := range pricing.Prompts {
		if e.Name == "" {
			return fmt.Errorf("pricing.prompts entry is missing a name")
		}
		if e.Amount < 0 {
			return fmt.Errorf("pricing.prompts[%s].amount must not be negative", e.Name)
		}
	}
	for _, e := range pricing.Resources {
		if e.URI == "" {
			return fmt.Errorf("pricing.resources entry is missing a uri")
		}
		if e.Amount < 0 {
			return fmt.Errorf("pricing.resources[%s].amount must not be negative", e.URI)
		}
	}
	return nil
}

func (*DefaultValidator) validateEncryption(enc EncryptionConfig) error {
	switch enc.Mode {
	case EncryptionDisabled, EncryptionOptional, EncryptionRequired:
		return nil
	default:
		return fmt.Errorf("encryption.mode must be one of: disabled, optional, required")
	}
}

func (*DefaultValidator) validatePayment(cfg *Config) error {
	if cfg.Payment == nil {
		if cfg.HasPricedCapabilities() {
			return fmt.Errorf("payment configuration is required when providers declare priced capabilities")
		}
		return nil
	}

	if !strings.Contains(cfg.Payment.LightningAddress, "@") {
		return fmt.Errorf("payment.lightning_address %q is not a user@domain address", cfg.Payment.LightningAddress)
	}
	if time.Duration(cfg.Payment.Timeout) <= 0 {
		return fmt.Errorf("payment.timeout must be positive")
	}
	for _, r := range cfg.Payment.ZapRelays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("payment.zap_relays entry %q must be a ws:// or wss:// URL", r)
		}
	}

	return nil
}

func (*DefaultValidator) validateWhitelist(wl WhitelistConfig) error {
	for _, pk := range wl.AllowedPubkeys {
		if len(pk) != 64 {
			return fmt.Errorf("whitelist.allowed_pubkeys entry %q must be 64 hex characters", pk)
		}
		if _, err := hex.DecodeString(pk); err != nil {
			return fmt.Errorf("whitelist.allowed_pubkeys entry %q is not valid hex", pk)
		}
	}
	return nil
}
