// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package memory provides an in-process auth.UserRepository for development
// and tests. Data is lost when the process exits.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
)

// UserRepository keeps users in a map. Stored and returned records are
// copies, so callers never share state with the repository.
type UserRepository struct {
	mu      sync.RWMutex
	users   map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:   make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, u *auth.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	email := auth.NormalizeEmail(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return oops.Code("USER_DUPLICATE_EMAIL").With("email", email).Wrap(auth.ErrDuplicateEmail)
	}
	if _, ok := r.users[u.ID]; ok {
		return oops.Code("USER_CREATE_FAILED").With("id", u.ID.String()).Errorf("user id already exists")
	}
	if u.Version == 0 {
		u.Version = 1
	}
	r.users[u.ID] = clone(u)
	r.byEmail[email] = u.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, notFound("id", id.String())
	}
	return clone(u), nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, notFound("email", email)
	}
	return clone(r.users[id]), nil
}

// GetByResetTokenHash retrieves the user holding an unexpired reset token.
func (r *UserRepository) GetByResetTokenHash(_ context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.PasswordResetToken != nil && *u.PasswordResetToken == tokenHash && u.ResetTokenValidAt(now) {
			return clone(u), nil
		}
	}
	return nil, notFound("token_hash", "[redacted]")
}

// Save writes the profile and credential fields of u when its version is
// current.
func (r *UserRepository) Save(_ context.Context, u *auth.User, opts auth.SaveOptions) error {
	if opts.Validate {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	email := auth.NormalizeEmail(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[u.ID]
	if !ok {
		return notFound("id", u.ID.String())
	}
	if stored.Version != u.Version {
		return conflict(u.ID, "version")
	}
	if owner, taken := r.byEmail[email]; taken && owner != u.ID {
		return oops.Code("USER_DUPLICATE_EMAIL").With("email", email).Wrap(auth.ErrDuplicateEmail)
	}

	delete(r.byEmail, auth.NormalizeEmail(stored.Email))
	stored.Name = u.Name
	stored.Email = email
	stored.Photo = u.Photo
	stored.Role = u.Role
	stored.PasswordHash = u.PasswordHash
	stored.PasswordChangedAt = clonePtr(u.PasswordChangedAt)
	stored.Active = u.Active
	stored.UpdatedAt = u.UpdatedAt
	stored.Version++
	r.byEmail[email] = u.ID

	u.Email = email
	u.Version = stored.Version
	return nil
}

// RecordLoginFailure counts a failed login and locks the account at the
// threshold.
func (r *UserRepository) RecordLoginFailure(_ context.Context, id ulid.ULID, now time.Time) error {
	return r.update(id, func(stored *auth.User) error {
		stored.RecordFailure(now)
		return nil
	})
}

// RecordLoginSuccess clears the failure counter and lockout.
func (r *UserRepository) RecordLoginSuccess(_ context.Context, id ulid.ULID, now time.Time) error {
	return r.update(id, func(stored *auth.User) error {
		stored.RecordSuccess(now)
		return nil
	})
}

// UpgradePasswordHash replaces the password hash while it still equals oldHash.
func (r *UserRepository) UpgradePasswordHash(_ context.Context, u *auth.User, oldHash string) error {
	return r.update(u.ID, func(stored *auth.User) error {
		if stored.PasswordHash != oldHash {
			return conflict(u.ID, "password_hash")
		}
		stored.PasswordHash = u.PasswordHash
		stored.PasswordChangedAt = clonePtr(u.PasswordChangedAt)
		stored.UpdatedAt = u.UpdatedAt
		stored.Version++
		u.Version = stored.Version
		return nil
	})
}

// SetPasswordReset stores a reset token, superseding any earlier one.
func (r *UserRepository) SetPasswordReset(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(stored *auth.User) error {
		stored.SetPasswordReset(tokenHash, expiresAt)
		return nil
	})
}

// ClearPasswordReset removes the reset token if it is still tokenHash.
func (r *UserRepository) ClearPasswordReset(_ context.Context, id ulid.ULID, tokenHash string) error {
	return r.update(id, func(stored *auth.User) error {
		if stored.PasswordResetToken != nil && *stored.PasswordResetToken == tokenHash {
			stored.ClearPasswordReset()
		}
		return nil
	})
}

// CompletePasswordReset consumes tokenHash and writes the new password.
func (r *UserRepository) CompletePasswordReset(_ context.Context, u *auth.User, tokenHash string, now time.Time) error {
	return r.update(u.ID, func(stored *auth.User) error {
		if !stored.Active || stored.PasswordResetToken == nil ||
			*stored.PasswordResetToken != tokenHash || !stored.ResetTokenValidAt(now) {
			return notFound("token_hash", "[redacted]")
		}
		stored.PasswordHash = u.PasswordHash
		stored.PasswordChangedAt = clonePtr(u.PasswordChangedAt)
		stored.ClearPasswordReset()
		stored.RecordSuccess(u.UpdatedAt)
		stored.Version++
		u.Version = stored.Version
		return nil
	})
}

// update applies fn to the stored record under the write lock.
func (r *UserRepository) update(id ulid.ULID, fn func(stored *auth.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[id]
	if !ok {
		return notFound("id", id.String())
	}
	return fn(stored)
}

// List returns all users, newest first.
func (r *UserRepository) List(_ context.Context) ([]*auth.User, error) {
	r.mu.RLock()
	out := make([]*auth.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, clone(u))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *auth.User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return out, nil
}

// Delete removes a user.
func (r *UserRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return notFound("id", id.String())
	}
	delete(r.byEmail, auth.NormalizeEmail(u.Email))
	delete(r.users, id)
	return nil
}

func conflict(id ulid.ULID, field string) error {
	return oops.Code("USER_CONFLICT").With("id", id.String()).With("field", field).Wrap(auth.ErrConflict)
}

func notFound(key, value string) error {
	return oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
}

func clone(u *auth.User) *auth.User {
	c := *u
	c.PasswordChangedAt = clonePtr(u.PasswordChangedAt)
	c.PasswordResetToken = clonePtr(u.PasswordResetToken)
	c.PasswordResetExpires = clonePtr(u.PasswordResetExpires)
	c.LockedUntil = clonePtr(u.LockedUntil)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
