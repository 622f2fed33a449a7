// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the dvmcp-bridge command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/dvmcp/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "dvmcp-bridge",
	DisableAutoGenTag: true,
	Short:             "DVMCP bridge - Expose local MCP servers over Nostr",
	Long: `DVMCP bridge connects local MCP (Model Context Protocol) servers to the
Nostr network. It provides:

- Aggregation of tools, resources, and prompts from multiple MCP servers
- Request handling over Nostr relays, plaintext or NIP-59 gift wrapped
- Discoverable capability announcements with replaceable events
- Lightning payment gating for priced capabilities
- Sender whitelisting

Clients anywhere on the network can discover the bridge through its
announcements and invoke capabilities without a direct network path to the
underlying servers.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the dvmcp-bridge CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to bridge configuration file")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newAnnounceCmd())
	rootCmd.AddCommand(newRetractCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}
