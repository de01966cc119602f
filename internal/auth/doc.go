// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package auth provides authentication primitives for Natours.
//
// # Credentials and tokens
//
// TokenManager owns every credential transform: password hashing through a
// PasswordHasher, signed session tokens (HS256 JWT), and one-time password
// reset tokens of which only the sha256 hash is ever stored. The signing key
// is injected through TokenConfig at construction and never changes.
//
// # Access guard
//
// Guard turns a set of CredentialSource values into an authenticated
// Principal. It verifies the session token, resolves the owning user, rejects
// tokens issued before the user's last password change, and enforces role
// allow-lists. ModeHard rejects on any failure; ModeSoft degrades to an
// anonymous result so read paths can still serve visitors.
//
// # Services
//
// Service coordinates the account flows (signup, login, forgot/reset
// password, password update) over a UserRepository and a Mailer.
package auth
