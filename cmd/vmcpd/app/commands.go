// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the vmcpd command-line interface.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "vmcpd",
	DisableAutoGenTag: true,
	Short:             "Virtual MCP server - compose upstream MCP servers and custom tools",
	Long: `vmcpd serves virtual MCP (Model Context Protocol) servers. Each vMCP
composes the capabilities of several upstream MCP servers with locally
defined tools, resources and prompts into one MCP surface:

- tool, resource and prompt aggregation with deterministic collision handling
- custom tools: templated prompts, templated HTTP requests and sandboxed scripts
- per-vMCP environment bindings with secret redaction
- cached capability discovery with staleness tracking
- an append-only usage log per inbound request`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd assembles the vmcpd command tree.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeTestCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

// newVersionCmd reports build information.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			cmd.Printf("vmcpd %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		},
	}
}

// newValidateCmd checks a definitions file without serving it.
func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a definitions file",
		Long: `Validate a YAML definitions file: syntax, upstream server records and
vMCP definitions, including custom tool unions and name uniqueness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := LoadDefinitions(configPath)
			if err != nil {
				return err
			}
			cmd.Printf("OK: %d upstream servers, %d vmcps\n", len(defs.Servers), len(defs.VMCPs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the definitions file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func versionString() string {
	return versions.GetVersionInfo().Version
}
