// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write finds the record changed
// since it was read.
var ErrConflict = errors.New("user changed concurrently")

// ErrDuplicateEmail is returned when a user with the same email already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// Error codes surfaced to callers. The HTTP layer maps them to status codes.
const (
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeCredentialStale    = "AUTH_CREDENTIAL_STALE"
	CodeForbidden          = "AUTH_FORBIDDEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeMissingCredentials = "AUTH_MISSING_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeWrongPassword      = "AUTH_WRONG_PASSWORD"
	CodeGuardFailed        = "AUTH_GUARD_FAILED"

	CodeResetTokenInvalid = "RESET_TOKEN_INVALID"
	CodeDeliveryFailed    = "RESET_DELIVERY_FAILED"

	CodeUserInvalid  = "USER_INVALID"
	CodeEmailTaken   = "USER_EMAIL_TAKEN"
	CodeUserNotFound = "USER_NOT_FOUND"
	CodeUserConflict = "USER_CONFLICT"
)

// Messages shared by flows that must not reveal which part of a credential was wrong.
const (
	msgInvalidCredentials = "incorrect email or password"
	msgResetTokenInvalid  = "token is invalid or has expired"
	msgNotLoggedIn        = "you are not logged in, please log in to get access"
)
