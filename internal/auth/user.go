// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth

import (
	"context"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Password validation constraints.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// DefaultPhoto is the photo assigned to users that never uploaded one.
const DefaultPhoto = "default.jpg"

// PasswordChangeSkew backdates PasswordChangedAt so a session token issued
// right after a password change is not considered stale. Token issue times
// have whole-second granularity.
const PasswordChangeSkew = time.Second

// Role is a user's authorization role.
type Role string

// Known roles.
const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	}
	return false
}

// ParseRole parses a role name. An empty string yields RoleUser.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleUser, nil
	}
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.Code(CodeUserInvalid).
			With("role", s).
			Errorf("unknown role %q", s)
	}
	return r, nil
}

// User is the persisted user record.
//
// User deliberately marshals to JSON as its UserView so the credential
// fields can never leak into a response body or a log attribute.
type User struct {
	ID                   ulid.ULID
	Name                 string
	Email                string
	Photo                string
	Role                 Role
	PasswordHash         string
	PasswordChangedAt    *time.Time
	PasswordResetToken   *string
	PasswordResetExpires *time.Time
	Active               bool
	FailedAttempts       int
	LockedUntil          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	// Version increases with every write of the profile or credential
	// fields. Save only succeeds against the version it read.
	Version int64
}

// UserView is the outward-facing representation of a user.
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo,omitempty"`
	Role  Role   `json:"role"`
}

// NewUser creates a validated, active User.
// passwordHash must already be the output of a PasswordHasher.
func NewUser(name, email, passwordHash string, role Role, now time.Time) (*User, error) {
	u := &User{
		ID:           ulid.Make(),
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		Photo:        DefaultPhoto,
		Role:         role,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// View returns the outward-facing representation of u.
func (u *User) View() UserView {
	return UserView{
		ID:    u.ID.String(),
		Name:  u.Name,
		Email: u.Email,
		Photo: u.Photo,
		Role:  u.Role,
	}
}

// MarshalJSON renders the user as its UserView.
//
//nolint:gocritic // value receiver so both User and *User marshal through the view
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.View())
}

// Validate checks the record-level constraints enforced on save.
func (u *User) Validate() error {
	if u.ID.Compare(ulid.ULID{}) == 0 {
		return oops.Code(CodeUserInvalid).Errorf("user id cannot be zero")
	}
	if u.Name == "" {
		return oops.Code(CodeUserInvalid).Errorf("please tell us your name")
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return oops.Code(CodeUserInvalid).With("role", string(u.Role)).Errorf("unknown role %q", u.Role)
	}
	if u.PasswordHash == "" {
		return oops.Code(CodeUserInvalid).Errorf("password hash cannot be empty")
	}
	return nil
}

// SetPassword replaces the password hash and records the change time.
// It must be used for every hash mutation after creation.
func (u *User) SetPassword(hash string, now time.Time) {
	changed := now.Add(-PasswordChangeSkew)
	u.PasswordHash = hash
	u.PasswordChangedAt = &changed
	u.UpdatedAt = now
}

// SetPasswordReset stores a reset token hash, superseding any earlier one.
func (u *User) SetPasswordReset(tokenHash string, expiresAt time.Time) {
	u.PasswordResetToken = &tokenHash
	u.PasswordResetExpires = &expiresAt
}

// ClearPasswordReset removes any pending reset token.
func (u *User) ClearPasswordReset() {
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
}

// ResetTokenValidAt reports whether a stored reset token is usable at t.
// The token is accepted up to and including its expiry instant.
func (u *User) ResetTokenValidAt(t time.Time) bool {
	if u.PasswordResetToken == nil || u.PasswordResetExpires == nil {
		return false
	}
	return !t.After(*u.PasswordResetExpires)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare, well-formed address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeUserInvalid).Errorf("please provide your email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeUserInvalid).
			With("email", email).
			Errorf("please provide a valid email")
	}
	return nil
}

// ValidatePassword checks a new plaintext password and its confirmation.
func ValidatePassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeUserInvalid).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code(CodeUserInvalid).
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	if password != confirm {
		return oops.Code(CodeUserInvalid).Errorf("passwords are not the same")
	}
	return nil
}

// SaveOptions controls how a repository persists a user.
type SaveOptions struct {
	// Validate runs User.Validate before writing.
	Validate bool
}

// UserLookup resolves users by id. It is all the Guard needs.
type UserLookup interface {
	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)
}

// UserRepository manages user persistence.
//
// Save writes a whole copy of the profile and credential fields and is
// guarded by Version. Login bookkeeping and reset tokens are never written
// from a copy: each has its own single-statement update, so a slow flow
// holding a stale read cannot undo a concurrent password change.
type UserRepository interface {
	UserLookup

	// Create stores a new user. Returns ErrDuplicateEmail on email collision.
	Create(ctx context.Context, user *User) error

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByResetTokenHash retrieves the user holding the given reset token
	// hash whose expiry is not before now. Returns ErrNotFound otherwise.
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*User, error)

	// Save writes name, email, photo, role, password hash, password change
	// time, active flag and UpdatedAt while the stored Version equals
	// user.Version, then increments user.Version. Returns ErrConflict when
	// the version moved and ErrNotFound when the user is gone.
	Save(ctx context.Context, user *User, opts SaveOptions) error

	// RecordLoginFailure increments the failure counter and, once it reaches
	// LockoutThreshold, locks the account until now+LockoutDuration.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time) error

	// RecordLoginSuccess clears the failure counter and any lockout.
	RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error

	// UpgradePasswordHash writes user's password hash and change time while
	// the stored hash still equals oldHash, then increments user.Version.
	// Returns ErrConflict when the password changed in between.
	UpgradePasswordHash(ctx context.Context, user *User, oldHash string) error

	// SetPasswordReset stores a reset token hash and expiry, superseding any
	// earlier token.
	SetPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ClearPasswordReset removes the reset token while it still equals
	// tokenHash. A superseded token is left alone.
	ClearPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string) error

	// CompletePasswordReset consumes tokenHash: while the active user still
	// holds it unexpired at now, it writes user's password hash and change
	// time, clears the token and lockout, and increments user.Version.
	// Returns ErrNotFound when the token is no longer valid.
	CompletePasswordReset(ctx context.Context, user *User, tokenHash string, now time.Time) error

	// List returns all users, newest first.
	List(ctx context.Context) ([]*User, error)

	// Delete removes a user.
	Delete(ctx context.Context, id ulid.ULID) error
}
