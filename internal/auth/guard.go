// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("natours/auth")

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "jwt"

// CredentialSource yields a session token from one place in a request.
type CredentialSource interface {
	// Token returns the raw token and true, or "" and false when this source
	// holds nothing usable.
	Token() (string, bool)
}

// BearerHeader reads "Authorization: Bearer <token>".
type BearerHeader struct {
	Header http.Header
}

// Token implements CredentialSource.
func (b BearerHeader) Token() (string, bool) {
	if b.Header == nil {
		return "", false
	}
	scheme, token, ok := strings.Cut(b.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Cookie reads a named cookie from a request.
type Cookie struct {
	Request *http.Request
	Name    string
}

// Token implements CredentialSource.
func (c Cookie) Token() (string, bool) {
	if c.Request == nil {
		return "", false
	}
	ck, err := c.Request.Cookie(c.Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// RequestSources returns the standard sources for r: the bearer header first,
// then the session cookie.
func RequestSources(r *http.Request) []CredentialSource {
	return []CredentialSource{
		BearerHeader{Header: r.Header},
		Cookie{Request: r, Name: SessionCookieName},
	}
}

// Mode selects what the Guard does when a request cannot be authenticated.
type Mode int

// Guard modes.
const (
	// ModeHard rejects the request on any failure.
	ModeHard Mode = iota
	// ModeSoft treats authentication failures as an anonymous visitor.
	ModeSoft
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	if m == ModeSoft {
		return "soft"
	}
	return "hard"
}

// Request describes one guarded capability invocation.
type Request struct {
	// Sources are consulted in order; the first that yields a token wins.
	Sources []CredentialSource
	Mode    Mode
	// Roles restricts the capability when non-empty.
	Roles []Role
}

// Principal is an admitted, authenticated user.
type Principal struct {
	User     *User
	IssuedAt time.Time
}

// Guard outcomes reported to a DecisionRecorder.
const (
	OutcomeAdmitted        = "admitted"
	OutcomeAnonymous       = "anonymous"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeStale           = "stale"
	OutcomeForbidden       = "forbidden"
	OutcomeError           = "error"
)

// DecisionRecorder observes every Guard decision.
type DecisionRecorder func(mode Mode, outcome string)

// SessionVerifier is the part of TokenManager the Guard depends on.
type SessionVerifier interface {
	VerifySessionToken(token string) (*SessionClaims, error)
	HasPasswordChangedAfter(user *User, issuedAt time.Time) bool
}

// Guard authenticates and authorizes requests.
type Guard struct {
	tokens   SessionVerifier
	users    UserLookup
	logger   *slog.Logger
	recorder DecisionRecorder
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger used for guard decisions.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithDecisionRecorder registers an observer of guard outcomes.
func WithDecisionRecorder(r DecisionRecorder) GuardOption {
	return func(g *Guard) {
		g.recorder = r
	}
}

// NewGuard creates a Guard.
func NewGuard(tokens SessionVerifier, users UserLookup, opts ...GuardOption) (*Guard, error) {
	if tokens == nil {
		return nil, oops.Code("GUARD_CONFIG_INVALID").Errorf("session verifier is required")
	}
	if users == nil {
		return nil, oops.Code("GUARD_CONFIG_INVALID").Errorf("user lookup is required")
	}
	g := &Guard{
		tokens: tokens,
		users:  users,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate runs a request through extraction, verification, user
// resolution, the password-change check and role authorization.
//
// In ModeHard every failure is returned as an error. In ModeSoft failures up
// to and including the password-change check return (nil, nil) so the caller
// serves an anonymous visitor; a resolved user that lacks a required role is
// still rejected.
func (g *Guard) Authenticate(ctx context.Context, req Request) (p *Principal, err error) {
	ctx, span := tracer.Start(ctx, "auth.guard",
		trace.WithAttributes(attribute.String("auth.mode", req.Mode.String())),
	)
	outcome := OutcomeError
	defer func() {
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if g.recorder != nil {
			g.recorder(req.Mode, outcome)
		}
	}()

	principal, failure, err := g.resolve(ctx, req)
	switch {
	case err != nil:
		return nil, err
	case failure != nil:
		if req.Mode == ModeSoft {
			outcome = OutcomeAnonymous
			return nil, nil
		}
		outcome = failure.outcome
		return nil, failure.err
	}

	if len(req.Roles) > 0 && !slices.Contains(req.Roles, principal.User.Role) {
		outcome = OutcomeForbidden
		g.logger.DebugContext(ctx, "guard rejected role",
			"user_id", principal.User.ID.String(),
			"role", string(principal.User.Role),
		)
		return nil, oops.Code(CodeForbidden).
			With("role", string(principal.User.Role)).
			Errorf("you do not have permission to perform this action")
	}

	span.SetAttributes(attribute.String("user.id", principal.User.ID.String()))
	outcome = OutcomeAdmitted
	return principal, nil
}

// guardFailure is a rejection that soft mode turns into an anonymous result.
type guardFailure struct {
	outcome string
	err     error
}

func unauthenticated(reason, msg string) *guardFailure {
	return &guardFailure{
		outcome: OutcomeUnauthenticated,
		err:     oops.Code(CodeUnauthenticated).With("reason", reason).Errorf("%s", msg),
	}
}

// resolve performs steps that both modes share. Infrastructure errors from
// the user lookup are returned as err and are never downgraded to anonymous.
func (g *Guard) resolve(ctx context.Context, req Request) (*Principal, *guardFailure, error) {
	token, ok := firstToken(req.Sources)
	if !ok {
		return nil, unauthenticated("missing", msgNotLoggedIn), nil
	}

	claims, err := g.tokens.VerifySessionToken(token)
	if err != nil {
		g.logger.DebugContext(ctx, "session token rejected", "error", err)
		return nil, unauthenticated("invalid", "invalid or expired session, please log in again"), nil
	}

	user, err := g.users.GetByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, unauthenticated("user_missing", "the user belonging to this token no longer exists"), nil
	case err != nil:
		return nil, nil, oops.Code(CodeGuardFailed).
			With("user_id", claims.UserID.String()).
			Wrap(err)
	case !user.Active:
		return nil, unauthenticated("user_inactive", "the user belonging to this token no longer exists"), nil
	}

	if g.tokens.HasPasswordChangedAfter(user, claims.IssuedAt) {
		return nil, &guardFailure{
			outcome: OutcomeStale,
			err: oops.Code(CodeCredentialStale).
				With("user_id", user.ID.String()).
				Errorf("user recently changed password, please log in again"),
		}, nil
	}

	return &Principal{User: user, IssuedAt: claims.IssuedAt}, nil, nil
}

func firstToken(sources []CredentialSource) (string, bool) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if token, ok := src.Token(); ok {
			return token, true
		}
	}
	return "", false
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the admitted principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
