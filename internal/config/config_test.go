// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func minimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NATOURS_AUTH__JWT_SECRET", testSecret)
	t.Setenv("NATOURS_STORE__KIND", StoreMemory)
}

func TestLoad_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := Load(LoadOptions{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, auth.DefaultSessionTTL, cfg.Auth.JWTTTL)
	assert.Equal(t, auth.DefaultResetTTL, cfg.Auth.Reset.TTL)
	assert.True(t, cfg.Auth.Reset.RevealUnknownEmail)
	assert.Equal(t, MailLog, cfg.Mail.Kind)
	assert.Equal(t, 5, cfg.Store.ConnectAttempts)
}

func TestLoad_Layering(t *testing.T) {
	path := writeFile(t, "natours.yaml", `
http:
  addr: ":8080"
  public_url: "https://natours.dev"
auth:
  jwt_secret: "`+testSecret+`"
  jwt_ttl: 24h
  reset:
    reveal_unknown_email: false
store:
  kind: postgres
  postgres_url: "postgres://file@db/natours"
log:
  format: text
`)
	t.Setenv("NATOURS_STORE__POSTGRES_URL", "postgres://env@db/natours")
	t.Setenv("NATOURS_LOG__FORMAT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-format", "json", "")
	flags.String("addr", ":3000", "")
	flags.Bool("unrelated", false, "")
	require.NoError(t, flags.Parse([]string{"--log-format=text"}))

	cfg, err := Load(LoadOptions{File: path, EnvFiles: []string{}, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr, "unset flag does not override the file")
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTTTL)
	assert.False(t, cfg.Auth.Reset.RevealUnknownEmail)
	assert.Equal(t, "postgres://env@db/natours", cfg.Store.PostgresURL, "env beats file")
	assert.Equal(t, "text", cfg.Log.Format, "flag beats env")
}

func TestLoad_DotenvFile(t *testing.T) {
	path := writeFile(t, "config.env", "NATOURS_AUTH__JWT_SECRET="+testSecret+"\nNATOURS_STORE__KIND=memory\n")
	// godotenv never overrides the real environment, so start clean.
	t.Setenv("NATOURS_AUTH__JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("NATOURS_AUTH__JWT_SECRET"))
	t.Setenv("NATOURS_STORE__KIND", "")
	require.NoError(t, os.Unsetenv("NATOURS_STORE__KIND"))

	cfg, err := Load(LoadOptions{EnvFiles: []string{path}})
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
}

func TestLoad_MissingExplicitFiles(t *testing.T) {
	minimalEnv(t)

	_, err := Load(LoadOptions{File: "/nonexistent/natours.yaml", EnvFiles: []string{}})
	errutil.AssertErrorContext(t, err, "source", "file")

	_, err = Load(LoadOptions{EnvFiles: []string{"/nonexistent/.env"}})
	errutil.AssertErrorContext(t, err, "source", "dotenv")
}

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":3000", PublicURL: "http://localhost:3000"},
		Auth: AuthConfig{
			JWTSecret: testSecret,
			JWTTTL:    time.Hour,
			CookieTTL: time.Hour,
			Reset:     ResetConfig{TTL: 10 * time.Minute},
		},
		Store: StoreConfig{Kind: StoreMemory},
		Mail:  MailConfig{Kind: MailLog},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"zero session ttl", func(c *Config) { c.Auth.JWTTTL = 0 }, "auth.jwt_ttl"},
		{"zero cookie ttl", func(c *Config) { c.Auth.CookieTTL = 0 }, "auth.cookie_ttl"},
		{"zero reset ttl", func(c *Config) { c.Auth.Reset.TTL = 0 }, "auth.reset.ttl"},
		{"no addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"relative public url", func(c *Config) { c.HTTP.PublicURL = "/natours" }, "http.public_url"},
		{"postgres without url", func(c *Config) { c.Store.Kind = StorePostgres }, "store.postgres_url"},
		{"mongo without uri", func(c *Config) { c.Store.Kind = StoreMongo }, "store.mongo_uri"},
		{"unknown store", func(c *Config) { c.Store.Kind = "sqlite" }, "store.kind"},
		{"redis without url", func(c *Config) { c.Mail.Kind = MailRedis }, "mail.redis_url"},
		{"unknown mailer", func(c *Config) { c.Mail.Kind = "smtp" }, "mail.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Derived(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.PublicURL = "https://natours.dev/"
	cfg.Auth.Issuer = "natours"
	cfg.Auth.Reset.RevealUnknownEmail = true

	tc := cfg.TokenConfig()
	assert.Equal(t, []byte(testSecret), tc.SigningKey)
	assert.Equal(t, time.Hour, tc.SessionTTL)
	assert.Equal(t, "natours", tc.Issuer)

	sc := cfg.ServiceConfig()
	assert.Equal(t, "https://natours.dev", sc.PublicURL)
	assert.True(t, sc.RevealUnknownEmail)
}

func TestConfig_Redacted(t *testing.T) {
	cfg := validConfig()
	cfg.Store.PostgresURL = "postgres://natours:hunter2@db:5432/natours"
	cfg.Mail.RedisURL = "redis://:s3cret@cache:6379/0"

	r := cfg.Redacted()
	assert.Equal(t, "[REDACTED]", r.Auth.JWTSecret)
	assert.NotContains(t, r.Store.PostgresURL, "hunter2")
	assert.Contains(t, r.Store.PostgresURL, "db:5432")
	assert.NotContains(t, r.Mail.RedisURL, "s3cret")
	assert.Empty(t, r.Store.MongoURI)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret, "original untouched")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "auth.jwt_secret", envKey("NATOURS_AUTH__JWT_SECRET"))
	assert.Equal(t, "auth.reset.ttl", envKey("NATOURS_AUTH__RESET__TTL"))
}

func TestLoad_SkipValidation(t *testing.T) {
	t.Setenv("NATOURS_AUTH__JWT_SECRET", "")
	t.Setenv("NATOURS_STORE__POSTGRES_URL", "postgres://db/natours")

	_, err := Load(LoadOptions{EnvFiles: []string{}})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	cfg, err := Load(LoadOptions{EnvFiles: []string{}, SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/natours", cfg.Store.PostgresURL)
}
