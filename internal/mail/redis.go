// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package mail

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/internal/observability"
)

// DefaultOutboxStream is the stream messages are appended to.
const DefaultOutboxStream = "natours:mail:outbox"

// outboxMaxLen caps the stream length; delivery workers are expected to keep up.
const outboxMaxLen = 10000

// streamAdder is the subset of redis.Cmdable the outbox uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisOutbox appends rendered messages to a Redis stream for an external
// delivery worker.
type RedisOutbox struct {
	client   streamAdder
	stream   string
	resetTTL time.Duration
	now      func() time.Time
}

// NewRedisOutbox creates an outbox writing to stream. An empty stream uses
// DefaultOutboxStream.
func NewRedisOutbox(client streamAdder, stream string, resetTTL time.Duration) *RedisOutbox {
	if stream == "" {
		stream = DefaultOutboxStream
	}
	if resetTTL <= 0 {
		resetTTL = auth.DefaultResetTTL
	}
	return &RedisOutbox{client: client, stream: stream, resetTTL: resetTTL, now: time.Now}
}

// DialRedis parses redisURL, creates a client and pings it.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("MAIL_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

// SendWelcome enqueues a welcome message.
func (o *RedisOutbox) SendWelcome(ctx context.Context, u *auth.User, profileURL string) error {
	return o.enqueue(ctx, WelcomeMessage(u, profileURL))
}

// SendPasswordReset enqueues a password reset message.
func (o *RedisOutbox) SendPasswordReset(ctx context.Context, u *auth.User, resetURL string) error {
	return o.enqueue(ctx, PasswordResetMessage(u, resetURL, int(o.resetTTL/time.Minute)))
}

func (o *RedisOutbox) enqueue(ctx context.Context, msg Message) error {
	args := &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: outboxMaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        string(msg.Kind),
			"to":          msg.To,
			"name":        msg.Name,
			"subject":     msg.Subject,
			"body":        msg.Body,
			"url":         msg.URL,
			"enqueued_at": o.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := o.client.XAdd(ctx, args).Err(); err != nil {
		observability.RecordMailFailure(string(msg.Kind))
		return oops.Code("MAIL_ENQUEUE_FAILED").
			With("stream", o.stream).
			With("kind", string(msg.Kind)).
			Wrap(err)
	}
	return nil
}

var _ auth.Mailer = (*RedisOutbox)(nil)
