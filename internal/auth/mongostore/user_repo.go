// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/natours/natours/internal/auth"
)

// userDocument is the stored form of auth.User. IDs are kept as ULID strings.
type userDocument struct {
	ID                   string     `bson:"_id"`
	Name                 string     `bson:"name"`
	Email                string     `bson:"email"`
	Photo                string     `bson:"photo"`
	Role                 string     `bson:"role"`
	PasswordHash         string     `bson:"password_hash"`
	PasswordChangedAt    *time.Time `bson:"password_changed_at,omitempty"`
	PasswordResetToken   *string    `bson:"password_reset_token,omitempty"`
	PasswordResetExpires *time.Time `bson:"password_reset_expires,omitempty"`
	Active               bool       `bson:"active"`
	FailedAttempts       int        `bson:"failed_attempts"`
	LockedUntil          *time.Time `bson:"locked_until,omitempty"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
	Version              int64      `bson:"version"`
}

func toDocument(u *auth.User) *userDocument {
	return &userDocument{
		ID:                   u.ID.String(),
		Name:                 u.Name,
		Email:                auth.NormalizeEmail(u.Email),
		Photo:                u.Photo,
		Role:                 string(u.Role),
		PasswordHash:         u.PasswordHash,
		PasswordChangedAt:    u.PasswordChangedAt,
		PasswordResetToken:   u.PasswordResetToken,
		PasswordResetExpires: u.PasswordResetExpires,
		Active:               u.Active,
		FailedAttempts:       u.FailedAttempts,
		LockedUntil:          u.LockedUntil,
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
		Version:              u.Version,
	}
}

func (d *userDocument) toUser() (*auth.User, error) {
	id, err := ulid.Parse(d.ID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", d.ID).Wrap(err)
	}
	return &auth.User{
		ID:                   id,
		Name:                 d.Name,
		Email:                d.Email,
		Photo:                d.Photo,
		Role:                 auth.Role(d.Role),
		PasswordHash:         d.PasswordHash,
		PasswordChangedAt:    utcPtr(d.PasswordChangedAt),
		PasswordResetToken:   d.PasswordResetToken,
		PasswordResetExpires: utcPtr(d.PasswordResetExpires),
		Active:               d.Active,
		FailedAttempts:       d.FailedAttempts,
		LockedUntil:          utcPtr(d.LockedUntil),
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
		Version:              d.Version,
	}, nil
}

// BSON dates carry millisecond precision in UTC.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// UserRepository implements auth.UserRepository on a MongoDB collection.
type UserRepository struct {
	col *mongo.Collection
}

// NewUserRepository creates a repository over col.
func NewUserRepository(col *mongo.Collection) *UserRepository {
	return &UserRepository{col: col}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Version == 0 {
		u.Version = 1
	}
	_, err := r.col.InsertOne(ctx, toDocument(u))
	if mongo.IsDuplicateKeyError(err) {
		return oops.Code("USER_DUPLICATE_EMAIL").With("email", u.Email).Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("operation", "insert user").Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, "get user by id")
}

// GetByEmail retrieves a user by email. Stored emails are normalized, so the
// lookup is case-insensitive.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: auth.NormalizeEmail(email)}}, "get user by email")
}

// GetByResetTokenHash retrieves the user holding an unexpired reset token.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	filter := bson.D{
		{Key: "password_reset_token", Value: tokenHash},
		{Key: "password_reset_expires", Value: bson.D{{Key: "$gte", Value: now}}},
	}
	return r.findOne(ctx, filter, "get user by reset token")
}

// Save sets the profile and credential fields of u when the stored version
// matches.
func (r *UserRepository) Save(ctx context.Context, u *auth.User, opts auth.SaveOptions) error {
	if opts.Validate {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	filter := bson.D{{Key: "_id", Value: u.ID.String()}, {Key: "version", Value: u.Version}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "name", Value: u.Name},
			{Key: "email", Value: auth.NormalizeEmail(u.Email)},
			{Key: "photo", Value: u.Photo},
			{Key: "role", Value: string(u.Role)},
			{Key: "password_hash", Value: u.PasswordHash},
			{Key: "password_changed_at", Value: u.PasswordChangedAt},
			{Key: "active", Value: u.Active},
			{Key: "updated_at", Value: u.UpdatedAt},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if mongo.IsDuplicateKeyError(err) {
		return oops.Code("USER_DUPLICATE_EMAIL").With("email", u.Email).Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("operation", "update user").With("id", u.ID.String()).Wrap(err)
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, u.ID, "version")
	}
	u.Version++
	return nil
}

// RecordLoginFailure increments the failure counter with a pipeline update,
// so the lockout decision sees the incremented value.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time) error {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "failed_attempts", Value: bson.D{{Key: "$add", Value: bson.A{"$failed_attempts", 1}}}},
			{Key: "updated_at", Value: now},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "locked_until", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{"$failed_attempts", auth.LockoutThreshold}}},
				now.Add(auth.LockoutDuration),
				"$$REMOVE",
			}}}},
		}}},
	}
	return r.updateOne(ctx, "record login failure", id, bson.D{{Key: "_id", Value: id.String()}}, pipeline)
}

// RecordLoginSuccess clears the failure counter and lockout.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error {
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "failed_attempts", Value: 0}, {Key: "updated_at", Value: now}}},
		{Key: "$unset", Value: bson.D{{Key: "locked_until", Value: ""}}},
	}
	return r.updateOne(ctx, "record login success", id, bson.D{{Key: "_id", Value: id.String()}}, update)
}

// UpgradePasswordHash replaces the hash while it still equals oldHash.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, u *auth.User, oldHash string) error {
	filter := bson.D{{Key: "_id", Value: u.ID.String()}, {Key: "password_hash", Value: oldHash}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: u.PasswordHash},
			{Key: "password_changed_at", Value: u.PasswordChangedAt},
			{Key: "updated_at", Value: u.UpdatedAt},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("operation", "upgrade password hash").With("id", u.ID.String()).Wrap(err)
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, u.ID, "password_hash")
	}
	u.Version++
	return nil
}

// SetPasswordReset stores a reset token, superseding any earlier one.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "password_reset_token", Value: tokenHash},
		{Key: "password_reset_expires", Value: expiresAt},
	}}}
	return r.updateOne(ctx, "set password reset", id, bson.D{{Key: "_id", Value: id.String()}}, update)
}

// ClearPasswordReset removes the reset token if it is still tokenHash.
func (r *UserRepository) ClearPasswordReset(ctx context.Context, id ulid.ULID, tokenHash string) error {
	filter := bson.D{{Key: "_id", Value: id.String()}, {Key: "password_reset_token", Value: tokenHash}}
	_, err := r.col.UpdateOne(ctx, filter, unsetReset())
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("operation", "clear password reset").With("id", id.String()).Wrap(err)
	}
	return nil
}

// CompletePasswordReset consumes tokenHash and writes the new password in
// one update.
func (r *UserRepository) CompletePasswordReset(ctx context.Context, u *auth.User, tokenHash string, now time.Time) error {
	filter := bson.D{
		{Key: "_id", Value: u.ID.String()},
		{Key: "active", Value: true},
		{Key: "password_reset_token", Value: tokenHash},
		{Key: "password_reset_expires", Value: bson.D{{Key: "$gte", Value: now}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: u.PasswordHash},
			{Key: "password_changed_at", Value: u.PasswordChangedAt},
			{Key: "failed_attempts", Value: 0},
			{Key: "updated_at", Value: u.UpdatedAt},
		}},
		{Key: "$unset", Value: bson.D{
			{Key: "password_reset_token", Value: ""},
			{Key: "password_reset_expires", Value: ""},
			{Key: "locked_until", Value: ""},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("operation", "complete password reset").With("id", u.ID.String()).Wrap(err)
	}
	if res.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", u.ID.String()).Wrap(auth.ErrNotFound)
	}
	u.Version++
	return nil
}

func unsetReset() bson.D {
	return bson.D{{Key: "$unset", Value: bson.D{
		{Key: "password_reset_token", Value: ""},
		{Key: "password_reset_expires", Value: ""},
	}}}
}

func (r *UserRepository) updateOne(ctx context.Context, operation string, id ulid.ULID, filter bson.D, update any) error {
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("operation", operation).With("id", id.String()).Wrap(err)
	}
	if res.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// missOrConflict explains a conditional update that matched no document.
func (r *UserRepository) missOrConflict(ctx context.Context, id ulid.ULID, field string) error {
	n, err := r.col.CountDocuments(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("operation", "check user exists").With("id", id.String()).Wrap(err)
	}
	if n == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return oops.Code("USER_CONFLICT").With("id", id.String()).With("field", field).Wrap(auth.ErrConflict)
}

// List returns all users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "find users").Wrap(err)
	}
	defer cursor.Close(ctx) //nolint:errcheck // read-only cursor

	var users []*auth.User
	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, oops.Code("USER_LIST_FAILED").With("operation", "decode user").Wrap(err)
		}
		u, err := doc.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := cursor.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	res, err := r.col.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("id", id.String()).Wrap(err)
	}
	if res.DeletedCount == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.D, operation string) (*auth.User, error) {
	var doc userDocument
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With("operation", operation).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", operation).Wrap(err)
	}
	return doc.toUser()
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
