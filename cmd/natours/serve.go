// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/internal/config"
	"github.com/natours/natours/internal/logging"
	"github.com/natours/natours/internal/observability"
	"github.com/natours/natours/internal/web"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the HTTP API together with the metrics and health endpoints.
The process runs until it receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, autoMigrate)
		},
	}

	cmd.Flags().String("addr", "", "API listen address")
	cmd.Flags().String("public-url", "", "externally visible base URL used in emailed links")
	cmd.Flags().String("metrics-addr", "", "metrics/health listen address (empty = disabled)")
	cmd.Flags().String("log-format", "", "log format (json or text)")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("store", "", "user store (postgres, mongo or memory)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.Flags().String("mail", "", "mail backend (log or redis)")
	cmd.Flags().String("redis-url", "", "Redis URL for the mail outbox")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "apply pending PostgreSQL migrations before serving")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, autoMigrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, err := logging.SetDefault(logging.Options{
		Service: "natours",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log").Wrap(err)
	}

	b, err := openBackends(ctx, cfg, autoMigrate, logger)
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

	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, b.ready, logger)
		metrics = obsServer.Metrics()
	}

	guardOpts := []auth.GuardOption{auth.WithGuardLogger(logger)}
	apiOpts := []web.APIOption{web.WithLogger(logger)}
	if metrics != nil {
		guardOpts = append(guardOpts, auth.WithDecisionRecorder(metrics.RecordGuardDecision))
		apiOpts = append(apiOpts, web.WithRecorder(metrics))
	}

	guard, err := auth.NewGuard(tokens, b.users, guardOpts...)
	if err != nil {
		return err //nolint:wrapcheck // coded by auth
	}
	api, err := web.NewAPI(svc, guard, web.CookieConfig{
		TTL:    cfg.Auth.CookieTTL,
		Secure: cfg.Auth.CookieSecure,
	}, apiOpts...)
	if err != nil {
		return err //nolint:wrapcheck // coded by web
	}

	if obsServer != nil {
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	httpServer := web.NewServer(cfg.HTTP.Addr, api.Handler(), logger)
	httpErrCh, err := httpServer.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.With("operation", "start http server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, httpErrCh, "http")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Natours API started on " + httpServer.Addr())
	logger.Info("natours ready",
		"addr", httpServer.Addr(),
		"store", cfg.Store.Kind,
		"mail", cfg.Mail.Kind,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

func stopObservability(s *observability.Server, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error. It
// returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
