// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

// AssertErrorCode asserts that err is an oops error with the given code.
// It only marks t as failed, so it is safe to call from spawned goroutines.
func AssertErrorCode(t testing.TB, err error, code string) bool {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	if !assert.True(t, ok, "expected oops error, got %T", err) {
		return false
	}
	return assert.Equal(t, code, oopsErr.Code())
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t testing.TB, err error, key string, value any) bool {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	if !assert.True(t, ok, "expected oops error, got %T", err) {
		return false
	}
	ctx := oopsErr.Context()
	return assert.Contains(t, ctx, key) && assert.Equal(t, value, ctx[key])
}

// AssertSameFailure asserts that a and b carry the same code, message and
// context, so a caller cannot tell them apart.
func AssertSameFailure(t testing.TB, a, b error) bool {
	t.Helper()
	oa, okA := oops.AsOops(a)
	ob, okB := oops.AsOops(b)
	if !assert.True(t, okA && okB, "expected oops errors, got %T and %T", a, b) {
		return false
	}
	return assert.Equal(t, oa.Code(), ob.Code()) &&
		assert.Equal(t, a.Error(), b.Error()) &&
		assert.Equal(t, oa.Context(), ob.Context())
}
