// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultSessionTTL   = 90 * 24 * time.Hour
	MinSigningKeyLength = 32
)

// TokenConfig is the immutable configuration of a TokenManager.
type TokenConfig struct {
	// SigningKey is the HMAC key for session tokens. Loaded once at startup.
	SigningKey []byte
	// SessionTTL is the fixed expiry horizon of every session token.
	SessionTTL time.Duration
	// ResetTTL is the lifetime of a password reset token.
	ResetTTL time.Duration
	// Issuer is written to and required in the "iss" claim when non-empty.
	Issuer string
}

// SessionClaims is the verified content of a session token.
type SessionClaims struct {
	UserID    ulid.ULID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager hashes and verifies passwords, issues and verifies session
// tokens, and creates password reset tokens. It holds no mutable state.
type TokenManager struct {
	key      []byte
	ttl      time.Duration
	resetTTL time.Duration
	issuer   string
	hasher   PasswordHasher
	now      func() time.Time
	parser   *jwt.Parser
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithClock replaces time.Now. Tests use it to move across expiry boundaries.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager creates a TokenManager. The signing key is copied.
func NewTokenManager(cfg TokenConfig, hasher PasswordHasher, opts ...TokenOption) (*TokenManager, error) {
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSigningKeyLength).
			Errorf("signing key must be at least %d bytes", MinSigningKeyLength)
	}
	if hasher == nil {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("password hasher is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}

	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)

	m := &TokenManager{
		key:      key,
		ttl:      cfg.SessionTTL,
		resetTTL: cfg.ResetTTL,
		issuer:   cfg.Issuer,
		hasher:   hasher,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}
	m.parser = jwt.NewParser(parserOpts...)

	return m, nil
}

// Now returns the manager's current time.
func (m *TokenManager) Now() time.Time {
	return m.now()
}

// SessionTTL returns the session token expiry horizon.
func (m *TokenManager) SessionTTL() time.Duration {
	return m.ttl
}

// HashPassword returns a salted one-way hash of plaintext.
func (m *TokenManager) HashPassword(plaintext string) (string, error) {
	hash, err := m.hasher.Hash(plaintext)
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	return hash, nil
}

// VerifyPassword reports whether plaintext matches hash. A malformed hash
// is a mismatch, never an error.
func (m *TokenManager) VerifyPassword(plaintext, hash string) bool {
	ok, err := m.hasher.Verify(plaintext, hash)
	return err == nil && ok
}

// NeedsRehash reports whether hash should be recomputed on next login.
func (m *TokenManager) NeedsRehash(hash string) bool {
	return m.hasher.NeedsUpgrade(hash)
}

// IssueSessionToken signs a token for userID valid for the configured TTL.
func (m *TokenManager) IssueSessionToken(userID ulid.ULID) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", oops.Code("SESSION_TOKEN_SIGN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return signed, nil
}

// VerifySessionToken checks signature, algorithm and expiry, and returns the
// embedded claims. Every failure carries CodeUnauthenticated.
func (m *TokenManager) VerifySessionToken(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, oops.Code(CodeUnauthenticated).Errorf("session token cannot be empty")
	}

	var claims jwt.RegisteredClaims
	_, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil {
		return nil, oops.Code(CodeUnauthenticated).
			With("reason", tokenFailureReason(err)).
			Wrap(err)
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code(CodeUnauthenticated).
			With("reason", "subject").
			Wrap(err)
	}
	if claims.IssuedAt == nil {
		return nil, oops.Code(CodeUnauthenticated).
			With("reason", "issued_at").
			Errorf("session token has no issue time")
	}

	return &SessionClaims{
		UserID:    userID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// CreateResetToken generates a password reset secret expiring after the
// configured reset TTL.
func (m *TokenManager) CreateResetToken() (*ResetToken, error) {
	token, hash, err := generateResetToken()
	if err != nil {
		return nil, err
	}
	return &ResetToken{
		Plaintext: token,
		Hash:      hash,
		ExpiresAt: m.now().Add(m.resetTTL),
	}, nil
}

// HasPasswordChangedAfter reports whether user changed their password after
// a token issued at issuedAt. Both sides are compared in whole seconds, the
// granularity of the token's issue time.
func (m *TokenManager) HasPasswordChangedAfter(user *User, issuedAt time.Time) bool {
	if user == nil || user.PasswordChangedAt == nil {
		return false
	}
	return user.PasswordChangedAt.Unix() > issuedAt.Unix()
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "issued_in_future"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "invalid"
	}
}
