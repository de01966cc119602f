// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package web

import (
	"net/http"
	"time"

	"github.com/natours/natours/internal/auth"
)

// loggedOutValue replaces the session cookie on logout.
const loggedOutValue = "loggedout"

// logoutCookieTTL is how long the placeholder cookie lives.
const logoutCookieTTL = 10 * time.Second

// CookieConfig controls the session cookie.
type CookieConfig struct {
	TTL time.Duration
	// Secure forces the Secure attribute; TLS requests always get it.
	Secure bool
}

func (c CookieConfig) session(r *http.Request, token string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(c.TTL),
		HttpOnly: true,
		Secure:   c.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) loggedOut(r *http.Request, now time.Time) *http.Cookie {
	ck := c.session(r, loggedOutValue, now)
	ck.Expires = now.Add(logoutCookieTTL)
	return ck
}
