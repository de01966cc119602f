// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/natours/natours/internal/auth"
)

// LogMailer writes messages to a logger instead of delivering them. Links are
// only logged at debug level.
type LogMailer struct {
	logger   *slog.Logger
	resetTTL time.Duration
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default().
func NewLogMailer(logger *slog.Logger, resetTTL time.Duration) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	if resetTTL <= 0 {
		resetTTL = auth.DefaultResetTTL
	}
	return &LogMailer{logger: logger, resetTTL: resetTTL}
}

// SendWelcome logs a welcome message.
func (m *LogMailer) SendWelcome(ctx context.Context, u *auth.User, profileURL string) error {
	m.log(ctx, WelcomeMessage(u, profileURL))
	return nil
}

// SendPasswordReset logs a password reset message.
func (m *LogMailer) SendPasswordReset(ctx context.Context, u *auth.User, resetURL string) error {
	m.log(ctx, PasswordResetMessage(u, resetURL, int(m.resetTTL/time.Minute)))
	return nil
}

func (m *LogMailer) log(ctx context.Context, msg Message) {
	m.logger.InfoContext(ctx, "mail message",
		"kind", string(msg.Kind),
		"to", msg.To,
		"subject", msg.Subject)
	m.logger.DebugContext(ctx, "mail message link",
		"kind", string(msg.Kind),
		"url", msg.URL)
}

var _ auth.Mailer = (*LogMailer)(nil)
