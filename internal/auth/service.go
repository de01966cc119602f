// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/natours/natours/pkg/errutil"
)

// ResetPath is the route prefix a reset token is appended to.
const ResetPath = "/api/v1/users/resetPassword/"

// ProfilePath is linked from the welcome message.
const ProfilePath = "/me"

// Mailer delivers account messages out of band.
type Mailer interface {
	SendWelcome(ctx context.Context, user *User, profileURL string) error
	SendPasswordReset(ctx context.Context, user *User, resetURL string) error
}

// ServiceConfig holds the policy knobs of Service.
type ServiceConfig struct {
	// PublicURL is the externally visible base URL, used when a flow is not
	// given one by the caller.
	PublicURL string
	// RevealUnknownEmail makes ForgotPassword fail with CodeUserNotFound for
	// an unknown address instead of pretending a message was sent.
	RevealUnknownEmail bool
}

// Session is the result of every flow that logs a user in.
type Session struct {
	Token     string
	User      *User
	ExpiresAt time.Time
}

// SignupInput is the data needed to create an account.
type SignupInput struct {
	Name            string
	Email           string
	Password        string
	PasswordConfirm string
	// Role is honored only by trusted callers; public signup leaves it empty.
	Role Role
}

// Service coordinates the account flows.
type Service struct {
	users  UserRepository
	tokens *TokenManager
	mailer Mailer
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService creates a new Service. A nil logger uses slog.Default().
func NewService(users UserRepository, tokens *TokenManager, mailer Mailer, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("users repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("token manager is required")
	}
	if mailer == nil {
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("mailer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{
		users:  users,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Signup creates an account and logs it in. A failed welcome message is
// logged and does not fail the signup.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	if err := ValidatePassword(in.Password, in.PasswordConfirm); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	hash, err := s.tokens.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user, err := NewUser(in.Name, in.Email, hash, role, s.tokens.Now())
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code(CodeEmailTaken).
				With("email", user.Email).
				Errorf("an account with this email already exists")
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	if err := s.mailer.SendWelcome(ctx, user, s.cfg.PublicURL+ProfilePath); err != nil {
		s.logger.WarnContext(ctx, "welcome message not delivered",
			"user_id", user.ID.String(),
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID.String(), "role", string(user.Role))
	return s.issueSession(user)
}

// Login authenticates by email and password.
// Unknown email and wrong password produce the same error, and an unknown
// email still costs one password verification.
func (s *Service) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer endSpan(span, &err)

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, oops.Code(CodeMissingCredentials).Errorf("please provide email and password")
	}

	user, err := s.lookupActiveByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	if user == nil {
		s.tokens.VerifyPassword(password, dummyPasswordHash)
		return nil, oops.Code(CodeInvalidCredentials).Errorf(msgInvalidCredentials)
	}

	now := s.tokens.Now()
	verified := s.tokens.VerifyPassword(password, user.PasswordHash)

	// A locked account gives the same answer whatever the password, and
	// guesses made while locked do not extend the lockout.
	if user.IsLocked(now) {
		return nil, oops.Code(CodeAccountLocked).
			With("retry_after", LockoutRemaining(user.LockedUntil, now).String()).
			Errorf("too many failed logins, try again later")
	}

	if !verified {
		s.logBestEffort(ctx, user.ID, "record_failure",
			s.users.RecordLoginFailure(ctx, user.ID, now))
		return nil, oops.Code(CodeInvalidCredentials).Errorf(msgInvalidCredentials)
	}

	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		s.logBestEffort(ctx, user.ID, "record_success",
			s.users.RecordLoginSuccess(ctx, user.ID, now))
		user.RecordSuccess(now)
	}
	if s.tokens.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user, password, now)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return s.issueSession(user)
}

// ForgotPassword stores a new reset token for the account and delivers a
// reset link built on baseURL (ServiceConfig.PublicURL when empty).
//
// When delivery fails the stored token is cleared before CodeDeliveryFailed
// is returned.
func (s *Service) ForgotPassword(ctx context.Context, email, baseURL string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.forgot_password")
	defer endSpan(span, &err)

	user, err := s.lookupActiveByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		if s.cfg.RevealUnknownEmail {
			return oops.Code(CodeUserNotFound).Errorf("there is no user with that email address")
		}
		s.logger.InfoContext(ctx, "password reset requested for unknown email")
		return nil
	case err != nil:
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	reset, err := s.tokens.CreateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "create reset token").
			Wrap(err)
	}

	if err := s.users.SetPasswordReset(ctx, user.ID, reset.Hash, reset.ExpiresAt); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.SetPasswordReset(reset.Hash, reset.ExpiresAt)

	if baseURL == "" {
		baseURL = s.cfg.PublicURL
	}
	resetURL := strings.TrimRight(baseURL, "/") + ResetPath + reset.Plaintext

	if sendErr := s.mailer.SendPasswordReset(ctx, user, resetURL); sendErr != nil {
		s.logger.WarnContext(ctx, "password reset delivery failed",
			"user_id", user.ID.String(),
			"error", sendErr,
		)
		if clearErr := s.users.ClearPasswordReset(ctx, user.ID, reset.Hash); clearErr != nil {
			errutil.LogErrorContext(ctx, s.logger, "reset token cleanup failed",
				oops.Code("RESET_CLEANUP_FAILED").
					With("user_id", user.ID.String()).
					Wrap(clearErr))
		}
		user.ClearPasswordReset()
		return oops.Code(CodeDeliveryFailed).
			With("user_id", user.ID.String()).
			Errorf("there was an error sending the email, try again later")
	}

	return nil
}

// ResetPassword sets a new password for the holder of a valid reset token
// and logs them in. Sessions issued before the reset become stale.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) (sess *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	defer endSpan(span, &err)

	if !wellFormedResetToken(token) {
		return nil, oops.Code(CodeResetTokenInvalid).Errorf(msgResetTokenInvalid)
	}

	now := s.tokens.Now()
	tokenHash := HashResetToken(token)
	user, err := s.users.GetByResetTokenHash(ctx, tokenHash, now)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, oops.Code(CodeResetTokenInvalid).Errorf(msgResetTokenInvalid)
	case err != nil:
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	case !user.Active || !user.ResetTokenValidAt(now) || !VerifyResetToken(token, *user.PasswordResetToken):
		return nil, oops.Code(CodeResetTokenInvalid).Errorf(msgResetTokenInvalid)
	}

	if err := ValidatePassword(password, confirm); err != nil {
		return nil, err
	}
	hash, err := s.tokens.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user.SetPassword(hash, now)
	if err := s.users.CompletePasswordReset(ctx, user, tokenHash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Used or superseded while the new password was being hashed.
			return nil, oops.Code(CodeResetTokenInvalid).Errorf(msgResetTokenInvalid)
		}
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "complete reset").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.ClearPasswordReset()
	user.RecordSuccess(now)

	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return s.issueSession(user)
}

// UpdatePassword changes the password of a logged-in user after checking the
// current one, and returns a fresh session.
func (s *Service) UpdatePassword(ctx context.Context, userID ulid.ULID, current, password, confirm string) (*Session, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !s.tokens.VerifyPassword(current, user.PasswordHash) {
		return nil, oops.Code(CodeWrongPassword).Errorf("your current password is wrong")
	}
	if err := ValidatePassword(password, confirm); err != nil {
		return nil, err
	}
	hash, err := s.tokens.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user.SetPassword(hash, s.tokens.Now())
	if err := s.users.Save(ctx, user, SaveOptions{Validate: true}); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, conflictError(user.ID)
		}
		return nil, oops.Code("AUTH_UPDATE_PASSWORD_FAILED").
			With("operation", "save user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password updated", "user_id", user.ID.String())
	return s.issueSession(user)
}

// Deactivate marks a user inactive. Inactive users cannot log in and their
// sessions are no longer admitted.
func (s *Service) Deactivate(ctx context.Context, userID ulid.ULID) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Active = false
	user.UpdatedAt = s.tokens.Now()
	if err := s.users.Save(ctx, user, SaveOptions{Validate: false}); err != nil {
		if errors.Is(err, ErrConflict) {
			return conflictError(userID)
		}
		return oops.Code("USER_DEACTIVATE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// GetUser returns an active user by id.
func (s *Service) GetUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound), err == nil && !user.Active:
		return nil, oops.Code(CodeUserNotFound).
			With("user_id", userID.String()).
			Errorf("no user found with that id")
	case err != nil:
		return nil, oops.Code("USER_GET_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return user, nil
}

// ListUsers returns every active user.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	all, err := s.users.List(ctx)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").Wrap(err)
	}
	users := make([]*User, 0, len(all))
	for _, u := range all {
		if u.Active {
			users = append(users, u)
		}
	}
	return users, nil
}

// DeleteUser permanently removes a user.
func (s *Service) DeleteUser(ctx context.Context, userID ulid.ULID) error {
	err := s.users.Delete(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeUserNotFound).
			With("user_id", userID.String()).
			Errorf("no user found with that id")
	case err != nil:
		return oops.Code("USER_DELETE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "user deleted", "user_id", userID.String())
	return nil
}

func (s *Service) lookupActiveByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *Service) issueSession(user *User) (*Session, error) {
	token, err := s.tokens.IssueSessionToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		User:      user,
		ExpiresAt: s.tokens.Now().Add(s.tokens.SessionTTL()),
	}, nil
}

// upgradeHash rehashes a legacy password with the current hasher. The write
// is skipped when the stored hash changed after user was read.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string, now time.Time) {
	hash, err := s.tokens.HashPassword(password)
	if err != nil {
		s.logBestEffort(ctx, user.ID, "upgrade_hash", err)
		return
	}
	upgraded := *user
	upgraded.SetPassword(hash, now)
	if err := s.users.UpgradePasswordHash(ctx, &upgraded, user.PasswordHash); err != nil {
		s.logBestEffort(ctx, user.ID, "upgrade_hash", err)
		return
	}
	*user = upgraded
}

// logBestEffort records the failure of a write whose loss must not fail the
// flow that made it.
func (s *Service) logBestEffort(ctx context.Context, userID ulid.ULID, operation string, err error) {
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "best-effort user update failed",
		"operation", operation,
		"user_id", userID.String(),
		"error", err,
	)
}

func conflictError(userID ulid.ULID) error {
	return oops.Code(CodeUserConflict).
		With("user_id", userID.String()).
		Errorf("the account was changed by another request, please try again")
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
