// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/natours/natours/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "invalid JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONStampsService(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "natours", Version: "1.2.0"}, &buf)
	require.NoError(t, err)

	logger.Info("user logged in", "user_id", "01J0000000000000000000000")

	entry := decode(t, &buf)
	assert.Equal(t, "user logged in", entry["msg"])
	assert.Equal(t, "natours", entry["service"])
	assert.Equal(t, "1.2.0", entry["version"])
	assert.NotContains(t, entry, "trace_id")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "natours", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("hello")
	assert.Contains(t, buf.String(), "service=natours")
}

func TestSetup_InvalidOptions(t *testing.T) {
	_, err := Setup(Options{Format: "xml"}, nil)
	errutil.AssertErrorCode(t, err, "LOG_FORMAT_INVALID")

	_, err = Setup(Options{Level: "verbose"}, nil)
	errutil.AssertErrorCode(t, err, "LOG_LEVEL_INVALID")
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Equal(t, "kept", decode(t, &buf)["msg"])
}

func TestSetup_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "natours"}, &buf)
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	logger.InfoContext(ctx, "guarded request")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestSetup_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{}, &buf)
	require.NoError(t, err)

	logger.With("jwt", "eyJhbGciOi").
		WithGroup("request").
		Info("login", "password", "pass1234", "Authorization", "Bearer abc", "email", "a@b.co")

	out := buf.String()
	assert.NotContains(t, out, "pass1234")
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.NotContains(t, out, "Bearer abc")
	assert.Contains(t, out, "a@b.co")
	assert.Contains(t, out, Redacted)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger, err := SetDefault(Options{Service: "natours"})
	require.NoError(t, err)
	assert.Same(t, logger, slog.Default())
}
