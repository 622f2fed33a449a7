// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/dvmcp/pkg/config"
	"github.com/stacklok/dvmcp/pkg/dvmcp/announcer"
	"github.com/stacklok/dvmcp/pkg/identity"
	"github.com/stacklok/dvmcp/pkg/logger"
	"github.com/stacklok/dvmcp/pkg/transport"
)

// newAnnounceCmd creates the announce command for a one-shot announcement
// refresh without running the bridge.
func newAnnounceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "announce",
		Short: "Publish capability announcements",
		Long: `Connect the configured MCP servers, publish the capability announcements
to the configured relays, and exit.

Announcements are replaceable events, so running this command refreshes
whatever the relays currently hold for this server identifier.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnounce(cmd.Context())
		},
	}
}

// newRetractCmd creates the retract command for withdrawing announcements.
func newRetractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retract",
		Short: "Retract capability announcements",
		Long: `Publish a deletion event referencing this server's capability
announcements, asking relays to stop serving them.

The MCP servers are not started; only the bridge identity and relay set
are needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRetract(cmd.Context())
		},
	}
}

func runAnnounce(ctx context.Context) error {
	cfg, err := loadBridgeConfig()
	if err != nil {
		return err
	}

	id, bus, err := connectNostr(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Debugf("Error closing relay connections: %v", err)
		}
	}()

	p := buildPool(cfg)
	logger.Infof("Connecting %d MCP providers", len(cfg.Providers))
	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect providers: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Debugf("Error closing providers: %v", err)
		}
	}()

	anc := announcer.New(announcer.Options{
		Identity:           id,
		Publisher:          bus,
		Pool:               p,
		ServerID:           cfg.ServerID,
		Name:               cfg.Name,
		About:              cfg.About,
		Picture:            cfg.Picture,
		Website:            cfg.Website,
		SupportsEncryption: cfg.Encryption.Enabled(),
	})

	if err := anc.Announce(ctx); err != nil {
		return fmt.Errorf("failed to publish announcements: %w", err)
	}

	logger.Infof("✓ Announcements published")
	return nil
}

func runRetract(ctx context.Context) error {
	cfg, err := loadBridgeConfig()
	if err != nil {
		return err
	}

	id, bus, err := connectNostr(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Debugf("Error closing relay connections: %v", err)
		}
	}()

	// Retraction only addresses the announcements, so no provider pool is
	// needed here.
	anc := announcer.New(announcer.Options{
		Identity:  id,
		Publisher: bus,
		ServerID:  cfg.ServerID,
	})

	if err := anc.Retract(ctx); err != nil {
		return fmt.Errorf("failed to retract announcements: %w", err)
	}

	logger.Infof("✓ Announcements retracted")
	return nil
}

// connectNostr loads the bridge identity and connects the relay transport.
func connectNostr(ctx context.Context, cfg *config.Config) (*identity.Manager, transport.Transport, error) {
	id, err := identity.NewManager(cfg.Nostr.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bridge identity: %w", err)
	}

	bus := transport.New(cfg.Nostr.Relays)
	if err := bus.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to relays: %w", err)
	}

	return id, bus, nil
}
