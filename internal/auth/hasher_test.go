// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/natours/natours/internal/auth"
)

// fastParams keeps argon2id cheap in tests.
var fastParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestHashPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(fastParams)

	t.Run("produces PHC string", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.ErrorIs(t, err, auth.ErrEmptyPassword)
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(fastParams)

	t.Run("round trip", func(t *testing.T) {
		for _, pw := range []string{"correctpassword", "pässwörd-ünïcode", strings.Repeat("x", 128)} {
			hash, err := hasher.Hash(pw)
			require.NoError(t, err)

			ok, err := hasher.Verify(pw, hash)
			require.NoError(t, err)
			assert.True(t, ok, pw)
		}
	})

	t.Run("different password fails", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("correctpassword2", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hash made with other params still verifies", func(t *testing.T) {
		other := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 2, Memory: 2048, Threads: 2, SaltLen: 8, KeyLen: 16})
		hash, err := other.Hash("password")
		require.NoError(t, err)

		ok, err := hasher.Verify("password", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	malformed := map[string]string{
		"not a PHC string":  "not-a-valid-hash",
		"wrong algorithm":   "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"bad version":       "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"bad parameters":    "$argon2id$v=19$invalid$c2FsdA$aGFzaA",
		"bad salt encoding": "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA",
		"bad key encoding":  "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!",
		"threads overflow":  "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA",
		"zero threads":      "$argon2id$v=19$m=65536,t=1,p=0$c2FsdA$aGFzaA",
	}
	for name, hash := range malformed {
		t.Run(name+" returns error", func(t *testing.T) {
			ok, err := hasher.Verify("password", hash)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(fastParams)

	legacy, err := bcrypt.GenerateFromPassword([]byte("pass1234"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := hasher.Verify("pass1234", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("pass12345", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, hasher.NeedsUpgrade(string(legacy)))
}

func TestNeedsUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(fastParams)

	current, err := hasher.Hash("password")
	require.NoError(t, err)
	assert.False(t, hasher.NeedsUpgrade(current))

	stronger := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 2, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	assert.True(t, stronger.NeedsUpgrade(current), "cost change triggers re-hash")
	assert.True(t, hasher.NeedsUpgrade("garbage"))
}
