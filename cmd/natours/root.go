// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/natours/natours/internal/config"
	"github.com/natours/natours/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFiles   []string
)

// NewRootCmd creates the root command for the natours CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "natours",
		Short: "Natours - tour booking API",
		Long: `Natours serves the account and session API of the tour booking
platform: signup, login, password reset and role-guarded user administration.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (YAML, default $XDG_CONFIG_HOME/natours/config.yaml when present)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"dotenv files to load (default: .env and config.env when present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewUserCmd())

	return cmd
}

// loadConfig merges every configuration source for cmd.
func loadConfig(cmd *cobra.Command, skipValidation bool) (*config.Config, error) {
	file := configFile
	if file == "" {
		var err error
		if file, err = xdg.DefaultConfigFile(); err != nil {
			return nil, err //nolint:wrapcheck // coded by xdg
		}
	}
	//nolint:wrapcheck // config errors are already coded
	return config.Load(config.LoadOptions{
		File:           file,
		EnvFiles:       envFiles,
		Flags:          cmd.Flags(),
		SkipValidation: skipValidation,
	})
}
