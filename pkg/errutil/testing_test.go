// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/natours/natours/pkg/errutil"
)

func TestAssertErrorCode_WrappedCause(t *testing.T) {
	err := oops.Code("AUTH_FORBIDDEN").
		With("role", "guide").
		Errorf("you do not have permission to perform this action")
	errutil.AssertErrorCode(t, err, "AUTH_FORBIDDEN")
}

func TestAssertErrorContext_RoleKey(t *testing.T) {
	err := oops.With("role", "guide").Errorf("forbidden")
	errutil.AssertErrorContext(t, err, "role", "guide")
}

func TestAssertErrorCode_FromGoroutine(t *testing.T) {
	done := make(chan bool)
	go func() {
		done <- errutil.AssertErrorCode(t, oops.Code("AUTH_LOCKED").Errorf("locked"), "AUTH_LOCKED")
	}()
	if !<-done {
		t.Fatal("matching code reported as a mismatch")
	}
}

func TestAssertSameFailure(t *testing.T) {
	locked := func() error {
		return oops.Code("AUTH_ACCOUNT_LOCKED").
			With("retry_after", "5m0s").
			Errorf("too many failed logins, try again later")
	}
	errutil.AssertSameFailure(t, locked(), locked())

	rec := &recordingT{TB: t}
	other := oops.Code("AUTH_ACCOUNT_LOCKED").
		With("retry_after", "4m0s").
		Errorf("too many failed logins, try again later")
	if errutil.AssertSameFailure(rec, locked(), other) || !rec.failed {
		t.Fatal("differing context reported as the same failure")
	}
}

// recordingT notes failures instead of reporting them.
type recordingT struct {
	testing.TB
	failed bool
}

func (r *recordingT) Errorf(string, ...any) { r.failed = true }

func (r *recordingT) Helper() {}
