// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package config loads the API configuration.
//
// Sources are layered, later ones winning: built-in defaults, a YAML file,
// NATOURS_* environment variables (optionally seeded from .env files) and
// command-line flags.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/natours/natours/internal/auth"
)

// EnvPrefix is the prefix of configuration environment variables. A double
// underscore separates nesting levels: NATOURS_AUTH__JWT_SECRET sets
// auth.jwt_secret.
const EnvPrefix = "NATOURS_"

// DefaultEnvFiles are loaded when present; missing ones are ignored.
var DefaultEnvFiles = []string{".env", "config.env"}

// Store kinds.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Mail kinds.
const (
	MailLog   = "log"
	MailRedis = "redis"
)

// Config is the complete API configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http" yaml:"http"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Auth    AuthConfig    `koanf:"auth" yaml:"auth"`
	Store   StoreConfig   `koanf:"store" yaml:"store"`
	Mail    MailConfig    `koanf:"mail" yaml:"mail"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr      string `koanf:"addr" yaml:"addr"`
	PublicURL string `koanf:"public_url" yaml:"public_url"`
}

// MetricsConfig configures the metrics and health listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// AuthConfig configures session and reset credentials.
type AuthConfig struct {
	JWTSecret    string        `koanf:"jwt_secret" yaml:"jwt_secret"`
	JWTTTL       time.Duration `koanf:"jwt_ttl" yaml:"jwt_ttl"`
	Issuer       string        `koanf:"issuer" yaml:"issuer"`
	CookieTTL    time.Duration `koanf:"cookie_ttl" yaml:"cookie_ttl"`
	CookieSecure bool          `koanf:"cookie_secure" yaml:"cookie_secure"`
	Reset        ResetConfig   `koanf:"reset" yaml:"reset"`
}

// ResetConfig configures the password reset flow.
type ResetConfig struct {
	TTL                time.Duration `koanf:"ttl" yaml:"ttl"`
	RevealUnknownEmail bool          `koanf:"reveal_unknown_email" yaml:"reveal_unknown_email"`
}

// StoreConfig selects and configures the user repository.
type StoreConfig struct {
	Kind            string `koanf:"kind" yaml:"kind"`
	PostgresURL     string `koanf:"postgres_url" yaml:"postgres_url"`
	MongoURI        string `koanf:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_database" yaml:"mongo_database"`
	ConnectAttempts int    `koanf:"connect_attempts" yaml:"connect_attempts"`
}

// MailConfig selects the mail backend.
type MailConfig struct {
	Kind     string `koanf:"kind" yaml:"kind"`
	RedisURL string `koanf:"redis_url" yaml:"redis_url"`
	Queue    string `koanf:"queue" yaml:"queue"`
}

func defaults() map[string]any {
	return map[string]any{
		"http.addr":                       ":3000",
		"http.public_url":                 "http://localhost:3000",
		"metrics.addr":                    "127.0.0.1:9100",
		"log.format":                      "json",
		"log.level":                       "info",
		"auth.jwt_ttl":                    auth.DefaultSessionTTL.String(),
		"auth.issuer":                     "natours",
		"auth.cookie_ttl":                 auth.DefaultSessionTTL.String(),
		"auth.cookie_secure":              false,
		"auth.reset.ttl":                  auth.DefaultResetTTL.String(),
		"auth.reset.reveal_unknown_email": true,
		"store.kind":                      StorePostgres,
		"store.mongo_database":            "natours",
		"store.connect_attempts":          5,
		"mail.kind":                       MailLog,
		"mail.queue":                      "natours:mail:outbox",
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":         "http.addr",
	"public-url":   "http.public_url",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.kind",
	"database-url": "store.postgres_url",
	"mongo-uri":    "store.mongo_uri",
	"mail":         "mail.kind",
	"redis-url":    "mail.redis_url",
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// File is a YAML config file. Empty skips the file layer.
	File string
	// EnvFiles are dotenv files applied to the process environment before
	// reading it. Nil means DefaultEnvFiles.
	EnvFiles []string
	// Flags are consulted last; only flags named in flagKeys are read.
	Flags *pflag.FlagSet
	// SkipValidation returns the merged configuration even when incomplete,
	// for commands that need only part of it.
	SkipValidation bool
}

// Load builds and validates a Config.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", opts.File).Wrap(err)
		}
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	if opts.SkipValidation {
		return &cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns NATOURS_AUTH__JWT_SECRET into auth.jwt_secret.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func loadEnvFiles(files []string) error {
	explicit := files != nil
	if !explicit {
		files = DefaultEnvFiles
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil {
			continue
		}
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "dotenv").With("path", f).Wrap(err)
	}
	return nil
}

// Validate checks values no component can run without.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if len(c.Auth.JWTSecret) < auth.MinSigningKeyLength {
		return invalid("auth.jwt_secret", "jwt secret must be at least %d bytes", auth.MinSigningKeyLength)
	}
	if c.Auth.JWTTTL <= 0 {
		return invalid("auth.jwt_ttl", "session ttl must be positive")
	}
	if c.Auth.CookieTTL <= 0 {
		return invalid("auth.cookie_ttl", "cookie ttl must be positive")
	}
	if c.Auth.Reset.TTL <= 0 {
		return invalid("auth.reset.ttl", "reset ttl must be positive")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "listen address is required")
	}
	if u, err := url.Parse(c.HTTP.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("http.public_url", "public url must be absolute, got %q", c.HTTP.PublicURL)
	}

	switch c.Store.Kind {
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return invalid("store.postgres_url", "postgres url is required for the postgres store")
		}
	case StoreMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return invalid("store.mongo_uri", "mongo uri and database are required for the mongo store")
		}
	case StoreMemory:
	default:
		return invalid("store.kind", "unknown store %q", c.Store.Kind)
	}

	switch c.Mail.Kind {
	case MailLog:
	case MailRedis:
		if c.Mail.RedisURL == "" {
			return invalid("mail.redis_url", "redis url is required for the redis mailer")
		}
	default:
		return invalid("mail.kind", "unknown mailer %q", c.Mail.Kind)
	}
	return nil
}

// TokenConfig returns the token manager settings.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		SigningKey: []byte(c.Auth.JWTSecret),
		SessionTTL: c.Auth.JWTTTL,
		ResetTTL:   c.Auth.Reset.TTL,
		Issuer:     c.Auth.Issuer,
	}
}

// ServiceConfig returns the auth service policy.
func (c *Config) ServiceConfig() auth.ServiceConfig {
	return auth.ServiceConfig{
		PublicURL:          strings.TrimRight(c.HTTP.PublicURL, "/"),
		RevealUnknownEmail: c.Auth.Reset.RevealUnknownEmail,
	}
}

// Redacted returns a copy safe to print: secrets and URL passwords are masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = redactedValue
	}
	out.Store.PostgresURL = redactURL(out.Store.PostgresURL)
	out.Store.MongoURI = redactURL(out.Store.MongoURI)
	out.Mail.RedisURL = redactURL(out.Mail.RedisURL)
	return out
}

const redactedValue = "[REDACTED]"

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	return u.Redacted()
}
