// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natours/natours/internal/auth"
)

type recordingGuard struct {
	got  auth.Request
	p    *auth.Principal
	err  error
	hits int
}

func (g *recordingGuard) Authenticate(_ context.Context, req auth.Request) (*auth.Principal, error) {
	g.got = req
	g.hits++
	return g.p, g.err
}

func principalEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			_, _ = w.Write([]byte(p.User.Email))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})
}

func testPrincipal(t *testing.T) *auth.Principal {
	t.Helper()
	u, err := auth.NewUser("Lisa", "lisa@example.com", "hash", auth.RoleGuide, time.Now())
	require.NoError(t, err)
	return &auth.Principal{User: u}
}

func TestProtect_PassesModeAndRoles(t *testing.T) {
	g := &recordingGuard{p: testPrincipal(t)}
	h := Protect(g, nil, auth.RoleAdmin, auth.RoleLeadGuide)(principalEcho(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lisa@example.com", rec.Body.String())
	assert.Equal(t, auth.ModeHard, g.got.Mode)
	assert.Equal(t, []auth.Role{auth.RoleAdmin, auth.RoleLeadGuide}, g.got.Roles)
	assert.Len(t, g.got.Sources, 2)
}

func TestProtect_RejectsWithMappedStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{auth.CodeUnauthenticated, http.StatusUnauthorized},
		{auth.CodeCredentialStale, http.StatusUnauthorized},
		{auth.CodeForbidden, http.StatusForbidden},
		{auth.CodeGuardFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			g := &recordingGuard{err: oops.Code(tt.code).Errorf("nope")}
			called := false
			h := Protect(g, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, called)
		})
	}
}

func TestOptional_AnonymousPassesThrough(t *testing.T) {
	g := &recordingGuard{}
	h := Optional(g, nil)(principalEcho(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
	assert.Equal(t, auth.ModeSoft, g.got.Mode)
	assert.Empty(t, g.got.Roles)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(discardLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(oops.Code(auth.CodeAccountLocked).Errorf("x")))
	assert.Equal(t, http.StatusConflict, StatusFor(oops.Code(auth.CodeUserConflict).Errorf("x")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}
