// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import "time"

// Default values applied to fields the file leaves unset.
const (
	// DefaultName is the service name when the file does not set one.
	DefaultName = "dvmcp-bridge"

	// DefaultPaymentTimeout bounds the wait for a proof of payment.
	DefaultPaymentTimeout = 5 * time.Minute

	// DefaultConnectTimeout bounds each provider's startup and handshake.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultCallTimeout bounds each capability invocation.
	DefaultCallTimeout = 2 * time.Minute

	// DefaultListTimeout bounds registry refresh queries.
	DefaultListTimeout = 30 * time.Second
)

// ApplyDefaults fills unset fields with their defaults. It is called by the
// loader after unmarshaling and is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	if cfg.Encryption.Mode == "" {
		cfg.Encryption.Mode = EncryptionOptional
	}

	if cfg.Payment != nil && cfg.Payment.Timeout == 0 {
		cfg.Payment.Timeout = Duration(DefaultPaymentTimeout)
	}

	if cfg.Limits.ConnectTimeout == 0 {
		cfg.Limits.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if cfg.Limits.CallTimeout == 0 {
		cfg.Limits.CallTimeout = Duration(DefaultCallTimeout)
	}
	if cfg.Limits.ListTimeout == 0 {
		cfg.Limits.ListTimeout = Duration(DefaultListTimeout)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Pricing == nil {
			continue
		}
		for j := range p.Pricing.Tools {
			if p.Pricing.Tools[j].Unit == "" {
				p.Pricing.Tools[j].Unit = "sats"
			}
		}
		for j := range p.Pricing.Prompts {
			if p.Pricing.Prompts[j].Unit == "" {
				p.Pricing.Prompts[j].Unit = "sats"
			}
		}
		for j := range p.Pricing.Resources {
			if p.Pricing.Resources[j].Unit == "" {
				p.Pricing.Resources[j].Unit = "sats"
			}
		}
	}
}
