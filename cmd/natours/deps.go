// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/internal/auth/memory"
	"github.com/natours/natours/internal/auth/mongostore"
	"github.com/natours/natours/internal/auth/postgres"
	"github.com/natours/natours/internal/config"
	"github.com/natours/natours/internal/mail"
	"github.com/natours/natours/internal/store"
)

// backends holds the storage and mail dependencies of a running process.
type backends struct {
	users   auth.UserRepository
	mailer  auth.Mailer
	ready   func(ctx context.Context) bool
	closers []func()
}

// Close releases every backend in reverse order of creation.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends connects the user repository and mailer selected by cfg.
// When autoMigrate is set the postgres schema is brought up to date first.
func openBackends(ctx context.Context, cfg *config.Config, autoMigrate bool, logger *slog.Logger) (*backends, error) {
	b := &backends{ready: func(context.Context) bool { return true }}

	if err := b.openStore(ctx, cfg, autoMigrate, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openMailer(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) openStore(ctx context.Context, cfg *config.Config, autoMigrate bool, logger *slog.Logger) error {
	switch cfg.Store.Kind {
	case config.StorePostgres:
		if autoMigrate {
			if err := migrateUp(cfg.Store.PostgresURL); err != nil {
				return err
			}
			logger.Info("database migrations applied")
		}
		pool, err := store.Connect(ctx, cfg.Store.PostgresURL, store.ConnectOptions{
			Attempts: uint64(max(cfg.Store.ConnectAttempts, 1)),
			Backoff:  500 * time.Millisecond,
			Logger:   logger,
		})
		if err != nil {
			return err //nolint:wrapcheck // coded by store
		}
		b.closers = append(b.closers, pool.Close)
		b.users = postgres.NewUserRepository(pool)
		b.ready = func(ctx context.Context) bool { return pool.Ping(ctx) == nil }

	case config.StoreMongo:
		s, err := mongostore.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return err //nolint:wrapcheck // coded by mongostore
		}
		b.closers = append(b.closers, func() {
			if err := s.Close(); err != nil {
				logger.Warn("error closing mongodb", "error", err)
			}
		})
		b.users = s.Users()
		b.ready = func(ctx context.Context) bool { return s.Ping(ctx) == nil }

	case config.StoreMemory:
		logger.Warn("using in-memory user store, accounts are lost on exit")
		b.users = memory.NewUserRepository()

	default:
		return oops.Code("CONFIG_INVALID").With("key", "store.kind").Errorf("unknown store %q", cfg.Store.Kind)
	}
	return nil
}

func (b *backends) openMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Mail.Kind {
	case config.MailRedis:
		client, err := mail.DialRedis(ctx, cfg.Mail.RedisURL)
		if err != nil {
			return err //nolint:wrapcheck // coded by mail
		}
		b.closers = append(b.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		})
		b.mailer = mail.NewRedisOutbox(client, cfg.Mail.Queue, cfg.Auth.Reset.TTL)
	default:
		b.mailer = mail.NewLogMailer(logger, cfg.Auth.Reset.TTL)
	}
	return nil
}

// newTokenManager builds the token manager for cfg.
func newTokenManager(cfg *config.Config) (*auth.TokenManager, error) {
	//nolint:wrapcheck // coded by auth
	return auth.NewTokenManager(cfg.TokenConfig(), auth.NewArgon2idHasher())
}

func migrateUp(databaseURL string) error {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err //nolint:wrapcheck // coded by store
	}
	defer func() { _ = m.Close() }()
	return m.Up() //nolint:wrapcheck // coded by store
}
