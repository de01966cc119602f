// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration merged from defaults, the config file, dotenv
files, NATOURS_* environment variables and flags. Secrets are redacted.
The command fails when the configuration would not start a server.`,
		Args: cobra.NoArgs,
		RunE: runConfig,
	}
	cmd.Flags().String("store", "", "user store (postgres, mongo or memory)")
	cmd.Flags().String("mail", "", "mail backend (log or redis)")
	return cmd
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	cmd.Print(string(out))

	if err := cfg.Validate(); err != nil {
		cmd.PrintErrln("configuration is invalid:", err)
		return err //nolint:wrapcheck // coded by config
	}
	return nil
}
