// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package web serves the account and session API over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/pkg/errutil"
)

// Accounts is the account service the handlers drive.
type Accounts interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	ForgotPassword(ctx context.Context, email, baseURL string) error
	ResetPassword(ctx context.Context, token, password, confirm string) (*auth.Session, error)
	UpdatePassword(ctx context.Context, userID ulid.ULID, current, password, confirm string) (*auth.Session, error)
	Deactivate(ctx context.Context, userID ulid.ULID) error
	GetUser(ctx context.Context, userID ulid.ULID) (*auth.User, error)
	ListUsers(ctx context.Context) ([]*auth.User, error)
	DeleteUser(ctx context.Context, userID ulid.ULID) error
}

// Recorder receives API metrics.
type Recorder interface {
	RequestRecorder
	RecordLogin(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, int) {}
func (nopRecorder) RecordLogin(string)                {}

// Login results reported to the Recorder.
const (
	LoginSuccess = "success"
	LoginInvalid = "invalid"
	LoginLocked  = "locked"
	LoginError   = "error"
)

// API holds the handlers and their dependencies.
type API struct {
	accounts Accounts
	guard    Authenticator
	cookie   CookieConfig
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// APIOption configures an API.
type APIOption func(*API)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) APIOption {
	return func(a *API) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) APIOption {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source used for cookie expiry.
func WithClock(now func() time.Time) APIOption {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAPI creates an API.
func NewAPI(accounts Accounts, guard Authenticator, cookie CookieConfig, opts ...APIOption) (*API, error) {
	if accounts == nil || guard == nil {
		return nil, oops.Code("WEB_CONFIG_INVALID").Errorf("accounts and guard are required")
	}
	if cookie.TTL <= 0 {
		return nil, oops.Code("WEB_CONFIG_INVALID").With("cookie_ttl", cookie.TTL.String()).
			Errorf("cookie ttl must be positive")
	}
	a := &API{
		accounts: accounts,
		guard:    guard,
		cookie:   cookie,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler returns the routed API.
func (a *API) Handler() http.Handler {
	protect := Protect(a.guard, a.logger)
	adminOnly := Protect(a.guard, a.logger, auth.RoleAdmin)
	optional := Optional(a.guard, a.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/users/signup", a.signup)
	mux.HandleFunc("POST /api/v1/users/login", a.login)
	mux.HandleFunc("GET /api/v1/users/logout", a.logout)
	mux.HandleFunc("POST /api/v1/users/forgotPassword", a.forgotPassword)
	mux.HandleFunc("PATCH /api/v1/users/resetPassword/{token}", a.resetPassword)

	mux.Handle("PATCH /api/v1/users/updateMyPassword", protect(http.HandlerFunc(a.updateMyPassword)))
	mux.Handle("GET /api/v1/users/me", protect(http.HandlerFunc(a.me)))
	mux.Handle("DELETE /api/v1/users/deleteMe", protect(http.HandlerFunc(a.deleteMe)))

	mux.Handle("GET /api/v1/users", adminOnly(http.HandlerFunc(a.listUsers)))
	mux.Handle("DELETE /api/v1/users/{id}", adminOnly(http.HandlerFunc(a.deleteUser)))

	mux.Handle("GET /api/v1/session", optional(http.HandlerFunc(a.session)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{
			Status:  "fail",
			Message: "can't find " + r.URL.Path + " on this server",
		})
	})

	return recoverer(a.logger, instrument(a.recorder, mux))
}

type signupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	sess, err := a.accounts.Signup(r.Context(), auth.SignupInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	a.sendSession(w, r, http.StatusCreated, sess)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	sess, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	a.recorder.RecordLogin(loginResult(err))
	if err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	a.sendSession(w, r, http.StatusOK, sess)
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return LoginSuccess
	case errutil.HasCode(err, auth.CodeAccountLocked):
		return LoginLocked
	case StatusFor(err) < http.StatusInternalServerError:
		return LoginInvalid
	default:
		return LoginError
	}
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.cookie.loggedOut(r, a.now()))
	writeJSON(w, http.StatusOK, envelope{Status: "success"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	// Links are built on the configured public URL, never the Host header.
	if err := a.accounts.ForgotPassword(r.Context(), req.Email, ""); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Message: "token sent to email"})
}

type resetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	sess, err := a.accounts.ResetPassword(r.Context(), r.PathValue("token"), req.Password, req.PasswordConfirm)
	if err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	a.sendSession(w, r, http.StatusOK, sess)
}

type updatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (a *API) updateMyPassword(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	sess, err := a.accounts.UpdatePassword(r.Context(), p.User.ID, req.PasswordCurrent, req.Password, req.PasswordConfirm)
	if err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	a.sendSession(w, r, http.StatusOK, sess)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	user, err := a.accounts.GetUser(r.Context(), p.User.ID)
	if err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	view := user.View()
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: userData{User: &view}})
}

func (a *API) deleteMe(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	if err := a.accounts.Deactivate(r.Context(), p.User.ID); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.ListUsers(r.Context())
	if err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	views := make([]auth.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	n := len(views)
	writeJSON(w, http.StatusOK, envelope{Status: "success", Results: &n, Data: usersData{Users: views}})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, a.logger,
			oops.Code(CodeRequestInvalid).With("id", r.PathValue("id")).Errorf("invalid user id"))
		return
	}
	if err := a.accounts.DeleteUser(r.Context(), id); err != nil {
		writeError(r.Context(), w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// session reports the current visitor; anonymous visitors get a null user.
func (a *API) session(w http.ResponseWriter, r *http.Request) {
	data := userData{}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		view := p.User.View()
		data.User = &view
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: data})
}

func (a *API) sendSession(w http.ResponseWriter, r *http.Request, status int, sess *auth.Session) {
	http.SetCookie(w, a.cookie.session(r, sess.Token, a.now()))
	view := sess.User.View()
	writeJSON(w, status, envelope{Status: "success", Token: sess.Token, Data: userData{User: &view}})
}

// mustPrincipal returns the principal set by Protect. Routes using it are
// only reachable through Protect.
func mustPrincipal(r *http.Request) *auth.Principal {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		panic(errors.New("web: protected handler reached without a principal"))
	}
	return p
}
