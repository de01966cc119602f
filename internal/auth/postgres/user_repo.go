// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package postgres implements auth.UserRepository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
)

// poolIface is satisfied by *pgxpool.Pool and pgxmock pools.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, name, email, photo, role, password_hash,
	password_changed_at, password_reset_token, password_reset_expires,
	active, failed_attempts, locked_until, created_at, updated_at, version`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Version == 0 {
		u.Version = 1
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		u.ID.String(),
		u.Name,
		u.Email,
		u.Photo,
		string(u.Role),
		u.PasswordHash,
		u.PasswordChangedAt,
		u.PasswordResetToken,
		u.PasswordResetExpires,
		u.Active,
		u.FailedAttempts,
		u.LockedUntil,
		u.CreatedAt,
		u.UpdatedAt,
		u.Version,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_DUPLICATE_EMAIL").
			With("email", u.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", u.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	return r.scanOne(row, "get user by id", "id", id.String())
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return r.scanOne(row, "get user by email", "email", email)
}

// GetByResetTokenHash retrieves the user holding an unexpired reset token.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE password_reset_token = $1 AND password_reset_expires >= $2
	`, tokenHash, now)
	return r.scanOne(row, "get user by reset token", "token_hash", "[redacted]")
}

// Save writes the profile and credential fields of u in one statement,
// conditioned on the version u was read at.
func (r *UserRepository) Save(ctx context.Context, u *auth.User, opts auth.SaveOptions) error {
	if opts.Validate {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			name = $3,
			email = $4,
			photo = $5,
			role = $6,
			password_hash = $7,
			password_changed_at = $8,
			active = $9,
			updated_at = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`,
		u.ID.String(),
		u.Version,
		u.Name,
		u.Email,
		u.Photo,
		string(u.Role),
		u.PasswordHash,
		u.PasswordChangedAt,
		u.Active,
		u.UpdatedAt,
	).Scan(&u.Version)
	if isUniqueViolation(err) {
		return oops.Code("USER_DUPLICATE_EMAIL").
			With("email", u.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, u.ID, "version")
	}
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "update user").
			With("id", u.ID.String()).
			Wrap(err)
	}
	return nil
}

// RecordLoginFailure increments the failure counter in place.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.execOne(ctx, "record login failure", id, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= $3 THEN $4::timestamptz END,
			updated_at = $2
		WHERE id = $1
	`, id.String(), now, auth.LockoutThreshold, now.Add(auth.LockoutDuration))
}

// RecordLoginSuccess clears the failure counter and lockout.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.execOne(ctx, "record login success", id, `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, id.String(), now)
}

// UpgradePasswordHash replaces the hash while it still equals oldHash.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, u *auth.User, oldHash string) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			password_hash = $3,
			password_changed_at = $4,
			updated_at = $5,
			version = version + 1
		WHERE id = $1 AND password_hash = $2
		RETURNING version
	`, u.ID.String(), oldHash, u.PasswordHash, u.PasswordChangedAt, u.UpdatedAt).Scan(&u.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, u.ID, "password_hash")
	}
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "upgrade password hash").
			With("id", u.ID.String()).
			Wrap(err)
	}
	return nil
}

// SetPasswordReset stores a reset token, superseding any earlier one.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return r.execOne(ctx, "set password reset", id, `
		UPDATE users SET password_reset_token = $2, password_reset_expires = $3
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt)
}

// ClearPasswordReset removes the reset token if it is still tokenHash.
func (r *UserRepository) ClearPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL
		WHERE id = $1 AND password_reset_token = $2
	`, id.String(), tokenHash)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "clear password reset").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// CompletePasswordReset consumes tokenHash and writes the new password in
// one statement.
func (r *UserRepository) CompletePasswordReset(ctx context.Context, u *auth.User, tokenHash string, now time.Time) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			password_hash = $4,
			password_changed_at = $5,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			failed_attempts = 0,
			locked_until = NULL,
			updated_at = $6,
			version = version + 1
		WHERE id = $1 AND active
			AND password_reset_token = $2 AND password_reset_expires >= $3
		RETURNING version
	`, u.ID.String(), tokenHash, now, u.PasswordHash, u.PasswordChangedAt, u.UpdatedAt).Scan(&u.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("USER_NOT_FOUND").
			With("id", u.ID.String()).
			With("token_hash", "[redacted]").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "complete password reset").
			With("id", u.ID.String()).
			Wrap(err)
	}
	return nil
}

// execOne runs an update that must touch exactly the row of id.
func (r *UserRepository) execOne(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// missOrConflict explains a conditional update that matched no row.
func (r *UserRepository) missOrConflict(ctx context.Context, id ulid.ULID, field string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id.String()).Scan(&exists)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "check user exists").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return oops.Code("USER_CONFLICT").
		With("id", id.String()).
		With("field", field).
		Wrap(auth.ErrConflict)
}

// List returns all users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "list users").Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row, operation, key, value string) (*auth.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", operation).
			With(key, value).
			Wrap(err)
	}
	return u, nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unchanged for callers to handle.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		role  string
		u     auth.User
	)
	err := row.Scan(
		&idStr,
		&u.Name,
		&u.Email,
		&u.Photo,
		&role,
		&u.PasswordHash,
		&u.PasswordChangedAt,
		&u.PasswordResetToken,
		&u.PasswordResetExpires,
		&u.Active,
		&u.FailedAttempts,
		&u.LockedUntil,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	u.ID = id
	u.Role = auth.Role(role)
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
