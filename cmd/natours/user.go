// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package main

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/internal/config"
)

// NewUserCmd creates the user administration command group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
	}
	cmd.PersistentFlags().String("store", "", "user store (postgres or mongo)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	cmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.PersistentFlags().String("mail", "", "mail backend (log or redis)")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for the mail outbox")

	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

type userCreateOptions struct {
	name     string
	email    string
	role     string
	password string
}

func newUserCreateCmd() *cobra.Command {
	var opts userCreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with any role",
		Long: `Create an account directly in the configured store. Unlike public
signup this can assign privileged roles such as admin. When --password is
omitted the password is read from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			return runUserCreate(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.role, "role", string(auth.RoleUser), "role (user, guide, lead-guide, admin)")
	cmd.Flags().StringVar(&opts.password, "password", "", "password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("name")  //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above

	return cmd
}

func runUserCreate(cmd *cobra.Command, cfg *config.Config, opts userCreateOptions) error {
	if cfg.Store.Kind == config.StoreMemory {
		return oops.Code("CONFIG_INVALID").
			With("key", "store.kind").
			Errorf("user create needs a persistent store, not %q", cfg.Store.Kind)
	}

	role, err := auth.ParseRole(opts.role)
	if err != nil {
		return err //nolint:wrapcheck // coded by auth
	}

	password := opts.password
	if password == "" {
		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	logger := slog.Default()
	b, err := openBackends(cmd.Context(), cfg, false, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	tokens, err := newTokenManager(cfg)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(b.users, tokens, b.mailer, cfg.ServiceConfig(), logger)
	if err != nil {
		return err //nolint:wrapcheck // coded by auth
	}

	sess, err := svc.Signup(cmd.Context(), auth.SignupInput{
		Name:            opts.name,
		Email:           opts.email,
		Password:        password,
		PasswordConfirm: password,
		Role:            role,
	})
	if err != nil {
		return err //nolint:wrapcheck // coded by auth
	}

	cmd.Printf("Created %s %s (%s)\n", sess.User.Role, sess.User.Email, sess.User.ID)
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("no password given on --password or stdin")
	}
	return password, nil
}
