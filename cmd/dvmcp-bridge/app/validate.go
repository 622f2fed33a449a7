// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"

	"github.com/stacklok/dvmcp/pkg/logger"
)

// newValidateCmd creates the validate command for checking configuration
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the bridge configuration file for syntax and semantic errors.

This command checks:
- YAML syntax validity
- Required fields presence
- Relay URL schemes
- Provider and pricing configuration validity
- Payment configuration when priced capabilities are declared`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadBridgeConfig()
			if err != nil {
				return err
			}

			logger.Infof("✓ Configuration is valid")
			logger.Infof("  Name: %s", cfg.Name)
			logger.Infof("  Providers: %d", len(cfg.Providers))
			logger.Infof("  Relays: %d", len(cfg.Nostr.Relays))
			logger.Infof("  Encryption: %s", cfg.Encryption.Mode)

			if len(cfg.Whitelist.AllowedPubkeys) > 0 {
				logger.Infof("  Whitelist: %d allowed senders", len(cfg.Whitelist.AllowedPubkeys))
			}

			if cfg.HasPricedCapabilities() {
				logger.Infof("  Payment: receipts settle to %s", cfg.Payment.LightningAddress)
			}

			return nil
		},
	}
}
