// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natours/natours/pkg/errutil"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(_ context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitReady_RetriesUntilReady(t *testing.T) {
	p := &flakyPinger{failures: 2}
	err := waitReady(context.Background(), p, ConnectOptions{Attempts: 5, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestWaitReady_GivesUp(t *testing.T) {
	p := &flakyPinger{failures: 100}
	err := waitReady(context.Background(), p, ConnectOptions{Attempts: 3, Backoff: time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, p.calls)
}

func TestWaitReady_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &flakyPinger{failures: 100}
	err := waitReady(ctx, p, ConnectOptions{Attempts: 50, Backoff: time.Second})
	require.Error(t, err)
	assert.LessOrEqual(t, p.calls, 1)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", ConnectOptions{Attempts: 1})
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
