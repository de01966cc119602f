// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/internal/auth/postgres"
	"github.com/natours/natours/internal/store"
)

var _ = Describe("UserRepository", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		repo      *postgres.UserRepository
		now       time.Time
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("natours_test"),
			tcpostgres.WithUsername("natours"),
			tcpostgres.WithPassword("natours"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.ConnectOptions{Attempts: 3, Backoff: 100 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewUserRepository(pool)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, `TRUNCATE users`)
		Expect(err).NotTo(HaveOccurred())
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	newUser := func(email string) *auth.User {
		u, err := auth.NewUser("Test User", email, "$argon2id$hash", auth.RoleUser, now)
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	Describe("Create", func() {
		It("stores a user that can be read back by id and email", func() {
			u := newUser("lisa@example.com")
			Expect(repo.Create(ctx, u)).To(Succeed())

			byID, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Email).To(Equal("lisa@example.com"))
			Expect(byID.Active).To(BeTrue())
			Expect(byID.PasswordChangedAt).To(BeNil())

			byEmail, err := repo.GetByEmail(ctx, "LISA@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(byEmail.ID).To(Equal(u.ID))
		})

		It("rejects a second account with the same email in any case", func() {
			Expect(repo.Create(ctx, newUser("dup@example.com"))).To(Succeed())

			other := newUser("dup@example.com")
			other.Email = "DUP@example.com"
			err := repo.Create(ctx, other)
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		})
	})

	Describe("GetByID", func() {
		It("returns ErrNotFound for an unknown id", func() {
			_, err := repo.GetByID(ctx, ulid.Make())
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("Save", func() {
		It("persists the password and leaves bookkeeping to its own statements", func() {
			u := newUser("save@example.com")
			Expect(repo.Create(ctx, u)).To(Succeed())
			Expect(repo.RecordLoginFailure(ctx, u.ID, now)).To(Succeed())
			Expect(repo.SetPasswordReset(ctx, u.ID, "deadbeef", now.Add(10*time.Minute))).To(Succeed())

			u.SetPassword("$argon2id$new", now.Add(time.Minute))
			Expect(repo.Save(ctx, u, auth.SaveOptions{Validate: true})).To(Succeed())
			Expect(u.Version).To(Equal(int64(2)))

			got, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("$argon2id$new"))
			Expect(got.PasswordChangedAt).NotTo(BeNil())
			Expect(got.PasswordChangedAt.Equal(*u.PasswordChangedAt)).To(BeTrue())
			Expect(got.FailedAttempts).To(Equal(1))
			Expect(*got.PasswordResetToken).To(Equal("deadbeef"))
			Expect(got.Version).To(Equal(int64(2)))
		})

		It("rejects a write from a stale read", func() {
			u := newUser("stale@example.com")
			Expect(repo.Create(ctx, u)).To(Succeed())
			stale, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())

			u.Name = "Fresh"
			Expect(repo.Save(ctx, u, auth.SaveOptions{})).To(Succeed())

			stale.Active = false
			Expect(repo.Save(ctx, stale, auth.SaveOptions{})).To(MatchError(auth.ErrConflict))

			got, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal("Fresh"))
			Expect(got.Active).To(BeTrue())
		})

		It("returns ErrNotFound for a user that was never created", func() {
			err := repo.Save(ctx, newUser("ghost@example.com"), auth.SaveOptions{})
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("GetByResetTokenHash", func() {
		var u *auth.User

		BeforeEach(func() {
			u = newUser("reset@example.com")
			u.SetPasswordReset("cafebabe", now.Add(10*time.Minute))
			Expect(repo.Create(ctx, u)).To(Succeed())
		})

		It("is consumed by exactly one of two racing resets", func() {
			first, err := repo.GetByResetTokenHash(ctx, "cafebabe", now)
			Expect(err).NotTo(HaveOccurred())
			second, err := repo.GetByResetTokenHash(ctx, "cafebabe", now)
			Expect(err).NotTo(HaveOccurred())

			first.SetPassword("$argon2id$first", now)
			second.SetPassword("$argon2id$second", now)
			Expect(repo.CompletePasswordReset(ctx, first, "cafebabe", now)).To(Succeed())
			Expect(repo.CompletePasswordReset(ctx, second, "cafebabe", now)).To(MatchError(auth.ErrNotFound))

			got, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("$argon2id$first"))
			Expect(got.PasswordResetToken).To(BeNil())
		})

		It("leaves a superseded token in place when clearing", func() {
			Expect(repo.SetPasswordReset(ctx, u.ID, "newer", now.Add(10*time.Minute))).To(Succeed())
			Expect(repo.ClearPasswordReset(ctx, u.ID, "cafebabe")).To(Succeed())

			got, err := repo.GetByResetTokenHash(ctx, "newer", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(u.ID))
		})

		It("finds the holder before expiry", func() {
			got, err := repo.GetByResetTokenHash(ctx, "cafebabe", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(u.ID))
		})

		It("accepts the exact expiry instant", func() {
			_, err := repo.GetByResetTokenHash(ctx, "cafebabe", now.Add(10*time.Minute))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects after expiry", func() {
			_, err := repo.GetByResetTokenHash(ctx, "cafebabe", now.Add(10*time.Minute+time.Microsecond))
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("rejects an unknown hash", func() {
			_, err := repo.GetByResetTokenHash(ctx, "other", now)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("login bookkeeping", func() {
		It("counts every one of many parallel failures", func() {
			u := newUser("parallel@example.com")
			Expect(repo.Create(ctx, u)).To(Succeed())

			const attempts = 20
			var wg sync.WaitGroup
			errs := make(chan error, attempts)
			for range attempts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- repo.RecordLoginFailure(ctx, u.ID, now)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			got, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FailedAttempts).To(Equal(attempts))
			Expect(got.IsLocked(now)).To(BeTrue())
			Expect(got.LockedUntil.Equal(now.Add(auth.LockoutDuration))).To(BeTrue())
		})

		It("does not lock below the threshold", func() {
			u := newUser("below@example.com")
			Expect(repo.Create(ctx, u)).To(Succeed())
			for range auth.LockoutThreshold - 1 {
				Expect(repo.RecordLoginFailure(ctx, u.ID, now)).To(Succeed())
			}

			got, err := repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.LockedUntil).To(BeNil())

			Expect(repo.RecordLoginSuccess(ctx, u.ID, now)).To(Succeed())
			got, err = repo.GetByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FailedAttempts).To(BeZero())
		})

		It("does not let a login read before a reset undo it", func() {
			s := newServiceStack(repo)
			preReset := s.signup("jonas@example.com", "oldpass123")
			Expect(s.svc.ForgotPassword(ctx, "jonas@example.com", "")).To(Succeed())
			resetToken := s.mailer.token("jonas@example.com")
			s.clock.Advance(5 * time.Second)

			paused := &pausingRepo{UserRepository: repo, beforeReturn: func() {
				_, err := s.svc.ResetPassword(ctx, resetToken, "newpass123", "newpass123")
				Expect(err).NotTo(HaveOccurred())
			}}
			_, err := s.serviceOver(paused).Login(ctx, "jonas@example.com", "wrongpass1")
			Expect(err).To(HaveOccurred())

			_, err = s.svc.Login(ctx, "jonas@example.com", "oldpass123")
			Expect(err).To(HaveOccurred())
			_, err = s.svc.Login(ctx, "jonas@example.com", "newpass123")
			Expect(err).NotTo(HaveOccurred())

			_, err = s.authenticate(preReset.Token)
			Expect(errorCode(err)).To(Equal(auth.CodeCredentialStale))
		})
	})

	Describe("List and Delete", func() {
		It("lists newest first and deletes by id", func() {
			older := newUser("older@example.com")
			Expect(repo.Create(ctx, older)).To(Succeed())

			now = now.Add(time.Second)
			newer := newUser("newer@example.com")
			Expect(repo.Create(ctx, newer)).To(Succeed())

			users, err := repo.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(2))
			Expect(users[0].ID).To(Equal(newer.ID))

			Expect(repo.Delete(ctx, older.ID)).To(Succeed())
			Expect(repo.Delete(ctx, older.ID)).To(MatchError(auth.ErrNotFound))

			users, err = repo.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(1))
		})
	})
})
