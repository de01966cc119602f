// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natours/natours/internal/auth"
)

func TestIsLockedOut(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil lockout", func(t *testing.T) {
		assert.False(t, auth.IsLockedOut(nil, now))
	})

	t.Run("future lockout", func(t *testing.T) {
		until := now.Add(time.Minute)
		assert.True(t, auth.IsLockedOut(&until, now))
		assert.Equal(t, time.Minute, auth.LockoutRemaining(&until, now))
	})

	t.Run("past lockout", func(t *testing.T) {
		until := now.Add(-time.Minute)
		assert.False(t, auth.IsLockedOut(&until, now))
		assert.Zero(t, auth.LockoutRemaining(&until, now))
	})
}

func TestComputeLockoutTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, auth.ComputeLockoutTime(auth.LockoutThreshold-1, now))

	until := auth.ComputeLockoutTime(auth.LockoutThreshold, now)
	require.NotNil(t, until)
	assert.Equal(t, now.Add(auth.LockoutDuration), *until)
}

func TestUser_RecordFailureAndSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &auth.User{FailedAttempts: auth.LockoutThreshold - 1}

	u.RecordFailure(now)
	assert.Equal(t, auth.LockoutThreshold, u.FailedAttempts)
	assert.True(t, u.IsLocked(now))
	assert.False(t, u.IsLocked(now.Add(auth.LockoutDuration)))
	assert.Equal(t, now, u.UpdatedAt)

	later := now.Add(time.Hour)
	u.RecordSuccess(later)
	assert.Zero(t, u.FailedAttempts)
	assert.Nil(t, u.LockedUntil)
	assert.Equal(t, later, u.UpdatedAt)
}
