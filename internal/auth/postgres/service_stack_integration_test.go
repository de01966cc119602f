// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

//go:build integration

package postgres_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention
	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/internal/auth/postgres"
)

const stackPublicURL = "https://natours.example"

type stackClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stackClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stackClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type linkMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *linkMailer) SendWelcome(context.Context, *auth.User, string) error { return nil }

func (m *linkMailer) SendPasswordReset(_ context.Context, u *auth.User, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[u.Email] = resetURL
	return nil
}

func (m *linkMailer) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[email]
	Expect(ok).To(BeTrue(), "no reset link sent to %s", email)
	return strings.TrimPrefix(link, stackPublicURL+auth.ResetPath)
}

// pausingRepo runs beforeReturn once, between reading a user by email and
// handing it back.
type pausingRepo struct {
	*postgres.UserRepository
	once         sync.Once
	beforeReturn func()
}

func (r *pausingRepo) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := r.UserRepository.GetByEmail(ctx, email)
	if err == nil && r.beforeReturn != nil {
		r.once.Do(r.beforeReturn)
	}
	return u, err
}

type serviceStack struct {
	clock  *stackClock
	tokens *auth.TokenManager
	mailer *linkMailer
	svc    *auth.Service
	guard  *auth.Guard
}

func newServiceStack(repo *postgres.UserRepository) *serviceStack {
	s := &serviceStack{
		clock:  &stackClock{t: time.Now().UTC().Truncate(time.Second)},
		mailer: &linkMailer{links: map[string]string{}},
	}
	tokens, err := auth.NewTokenManager(
		auth.TokenConfig{SigningKey: []byte("0123456789abcdef0123456789abcdef")},
		auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}),
		auth.WithClock(s.clock.Now),
	)
	Expect(err).NotTo(HaveOccurred())
	s.tokens = tokens
	s.svc = s.serviceOver(repo)

	s.guard, err = auth.NewGuard(tokens, repo)
	Expect(err).NotTo(HaveOccurred())
	return s
}

func (s *serviceStack) serviceOver(users auth.UserRepository) *auth.Service {
	svc, err := auth.NewService(users, s.tokens, s.mailer, auth.ServiceConfig{PublicURL: stackPublicURL}, nil)
	Expect(err).NotTo(HaveOccurred())
	return svc
}

func (s *serviceStack) signup(email, password string) *auth.Session {
	sess, err := s.svc.Signup(context.Background(), auth.SignupInput{
		Name:            "Jonas",
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	})
	Expect(err).NotTo(HaveOccurred())
	return sess
}

func (s *serviceStack) authenticate(token string) (*auth.Principal, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return s.guard.Authenticate(context.Background(), auth.Request{
		Sources: []auth.CredentialSource{auth.BearerHeader{Header: h}},
		Mode:    auth.ModeHard,
	})
}

func errorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
