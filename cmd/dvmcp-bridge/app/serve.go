// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/dvmcp/pkg/config"
	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/dvmcp/announcer"
	"github.com/stacklok/dvmcp/pkg/dvmcp/client"
	"github.com/stacklok/dvmcp/pkg/dvmcp/envelope"
	"github.com/stacklok/dvmcp/pkg/dvmcp/payment"
	"github.com/stacklok/dvmcp/pkg/dvmcp/pool"
	"github.com/stacklok/dvmcp/pkg/dvmcp/router"
	"github.com/stacklok/dvmcp/pkg/logger"
	"github.com/stacklok/dvmcp/pkg/versions"
)

// retractTimeout bounds the best-effort announcement retraction on shutdown.
const retractTimeout = 10 * time.Second

// newServeCmd creates the serve command for running the bridge
func newServeCmd() *cobra.Command {
	var noAnnounce bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the DVMCP bridge",
		Long: `Run the DVMCP bridge: connect the configured MCP servers, publish
capability announcements, and serve requests arriving over the configured
Nostr relays until interrupted.

On shutdown the bridge retracts its announcements so clients stop
discovering a server that is no longer listening.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), noAnnounce)
		},
	}

	cmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "Skip publishing capability announcements on startup")

	return cmd
}

// runServe implements the serve command logic
func runServe(ctx context.Context, noAnnounce bool) error {
	cfg, err := loadBridgeConfig()
	if err != nil {
		return err
	}

	logger.Infof("Configuration loaded and validated successfully")
	logger.Infof("  Name: %s", cfg.Name)
	logger.Infof("  Providers: %d", len(cfg.Providers))
	logger.Infof("  Relays: %d", len(cfg.Nostr.Relays))
	logger.Infof("  Encryption: %s", cfg.Encryption.Mode)

	id, bus, err := connectNostr(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Infof("Bridge identity: %s", id.PublicKey())
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

	var wrapper *envelope.Wrapper
	if cfg.Encryption.Enabled() {
		wrapper = envelope.New(id)
	}

	var gate *payment.Gate
	if cfg.HasPricedCapabilities() {
		receiver, err := payment.NewLNURLReceiver(cfg.Payment.LightningAddress)
		if err != nil {
			return fmt.Errorf("failed to resolve lightning address: %w", err)
		}
		gate = payment.NewGate(payment.Options{
			Identity: id,
			Receiver: receiver,
			Watcher:  bus,
			Querier:  bus,
			Relays:   cfg.Payment.ZapRelays,
			Timeout:  time.Duration(cfg.Payment.Timeout),
		})
		logger.Infof("Payment gating enabled, receipts settle to %s", cfg.Payment.LightningAddress)
	}

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

	announced := false
	if noAnnounce {
		logger.Infof("Skipping capability announcements (--no-announce)")
	} else if err := anc.Announce(ctx); err != nil {
		// The bridge still serves direct requests without announcements,
		// so a failed publish is not fatal.
		logger.Warnf("Failed to publish announcements: %v", err)
	} else {
		announced = true
	}

	serverID := cfg.ServerID
	if serverID == "" {
		serverID = announcer.DeriveServerID(id.PublicKey())
	}

	rtrOpts := router.Options{
		Identity:       id,
		Bus:            bus,
		Pool:           p,
		ServerID:       serverID,
		Encryption:     cfg.Encryption.Mode,
		AllowedPubkeys: cfg.Whitelist.AllowedPubkeys,
	}
	// Assign the optional collaborators only when built, so the router sees
	// a nil interface rather than a typed nil pointer.
	if wrapper != nil {
		rtrOpts.Wrapper = wrapper
	}
	if gate != nil {
		rtrOpts.Gate = gate
	}

	rtr := router.New(rtrOpts)
	if err := rtr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}

	// Block until the signal context is canceled.
	<-ctx.Done()
	logger.Infof("Shutting down")
	rtr.Stop()

	if announced {
		retractCtx, cancel := context.WithTimeout(context.Background(), retractTimeout)
		defer cancel()
		if err := anc.Retract(retractCtx); err != nil {
			logger.Warnf("Failed to retract announcements: %v", err)
		}
	}

	return nil
}

// loadBridgeConfig loads and validates the configuration file named by the
// --config flag.
func loadBridgeConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		return nil, fmt.Errorf("no configuration file specified, use --config flag")
	}

	logger.Infof("Loading configuration from: %s", configPath)

	loader := config.NewYAMLLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}

	validator := config.NewValidator()
	if err := validator.Validate(cfg); err != nil {
		logger.Errorf("Configuration validation failed: %v", err)
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return cfg, nil
}

// buildPool constructs the provider pool from configuration.
func buildPool(cfg *config.Config) dvmcp.Pool {
	version := cfg.Version
	if version == "" {
		version = versions.GetVersionInfo().Version
	}

	providers := make([]dvmcp.ProviderClient, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		providers = append(providers, client.New(client.Options{
			ID:            fmt.Sprintf("provider-%d", i),
			Name:          pc.Name,
			Command:       pc.Command,
			Args:          pc.Args,
			Env:           pc.Env,
			Pricing:       pricingFromConfig(pc.Pricing),
			ClientName:    cfg.Name,
			ClientVersion: version,
		}))
	}

	return pool.New(providers, pool.Options{
		ServerInfo: dvmcp.Implementation{
			Name:    cfg.Name,
			Version: version,
		},
		Instructions:   cfg.Instructions,
		ConnectTimeout: time.Duration(cfg.Limits.ConnectTimeout),
		CallTimeout:    time.Duration(cfg.Limits.CallTimeout),
		ListTimeout:    time.Duration(cfg.Limits.ListTimeout),
	})
}

// pricingFromConfig converts a configured price list into the pool's pricing
// model. A nil config means everything is free.
func pricingFromConfig(pc *config.PricingConfig) dvmcp.Pricing {
	var pricing dvmcp.Pricing
	if pc == nil {
		return pricing
	}

	if len(pc.Tools) > 0 {
		pricing.Tools = make(map[string]dvmcp.Price, len(pc.Tools))
		for _, e := range pc.Tools {
			pricing.Tools[e.Name] = dvmcp.Price{Amount: e.Amount, Unit: e.Unit}
		}
	}
	if len(pc.Prompts) > 0 {
		pricing.Prompts = make(map[string]dvmcp.Price, len(pc.Prompts))
		for _, e := range pc.Prompts {
			pricing.Prompts[e.Name] = dvmcp.Price{Amount: e.Amount, Unit: e.Unit}
		}
	}
	if len(pc.Resources) > 0 {
		pricing.Resources = make(map[string]dvmcp.Price, len(pc.Resources))
		for _, e := range pc.Resources {
			pricing.Resources[e.URI] = dvmcp.Price{Amount: e.Amount, Unit: e.Unit}
		}
	}

	return pricing
}
