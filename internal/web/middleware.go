// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/natours/natours/internal/auth"
)

// Authenticator is the guard the middleware delegates to.
type Authenticator interface {
	Authenticate(ctx context.Context, req auth.Request) (*auth.Principal, error)
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Protect admits only authenticated users, and when roles are given only
// users holding one of them. The principal is stored in the request context.
func Protect(g Authenticator, logger *slog.Logger, roles ...auth.Role) Middleware {
	return guarded(g, logger, auth.ModeHard, roles)
}

// Optional resolves the visitor when possible and serves anonymous visitors
// without a principal.
func Optional(g Authenticator, logger *slog.Logger) Middleware {
	return guarded(g, logger, auth.ModeSoft, nil)
}

func guarded(g Authenticator, logger *slog.Logger, mode auth.Mode, roles []auth.Role) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.Authenticate(r.Context(), auth.Request{
				Sources: auth.RequestSources(r),
				Mode:    mode,
				Roles:   roles,
			})
			if err != nil {
				writeError(r.Context(), w, logger, err)
				return
			}
			if p != nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestRecorder observes served requests.
type RequestRecorder interface {
	RecordRequest(method, route string, status int)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	//nolint:wrapcheck // passthrough
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// instrument records each request under the mux pattern that served it.
func instrument(rec RequestRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		rec.RecordRequest(r.Method, route, status)
	})
}

// recoverer turns a handler panic into a 500 response.
func recoverer(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(v)
				}
				logger.ErrorContext(r.Context(), "handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", v,
				)
				writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: genericServerMessage})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
