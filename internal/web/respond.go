// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/natours/natours/internal/auth"
	"github.com/natours/natours/pkg/errutil"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 10 << 10

// CodeRequestInvalid marks a body or path parameter that could not be read.
const CodeRequestInvalid = "REQUEST_INVALID"

// statusByCode maps error codes to HTTP statuses. Unlisted codes are 500.
var statusByCode = map[string]int{
	auth.CodeUnauthenticated:    http.StatusUnauthorized,
	auth.CodeCredentialStale:    http.StatusUnauthorized,
	auth.CodeInvalidCredentials: http.StatusUnauthorized,
	auth.CodeWrongPassword:      http.StatusUnauthorized,
	auth.CodeForbidden:          http.StatusForbidden,
	auth.CodeMissingCredentials: http.StatusBadRequest,
	auth.CodeResetTokenInvalid:  http.StatusBadRequest,
	auth.CodeUserInvalid:        http.StatusBadRequest,
	CodeRequestInvalid:          http.StatusBadRequest,
	auth.CodeUserNotFound:       http.StatusNotFound,
	auth.CodeEmailTaken:         http.StatusConflict,
	auth.CodeUserConflict:       http.StatusConflict,
	auth.CodeAccountLocked:      http.StatusTooManyRequests,
	auth.CodeDeliveryFailed:     http.StatusInternalServerError,
}

// exposedServerCodes are 5xx codes whose message is shown to the client.
var exposedServerCodes = map[string]bool{
	auth.CodeDeliveryFailed: true,
}

const genericServerMessage = "something went very wrong"

// StatusFor returns the HTTP status for an error.
func StatusFor(err error) int {
	if status, ok := statusByCode[errutil.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type envelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Results *int   `json:"results,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type userData struct {
	User *auth.UserView `json:"user"`
}

type usersData struct {
	Users []auth.UserView `json:"users"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// writeError renders err. Client errors carry their message; unexpected
// server errors are logged and answered generically.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	code := errutil.Code(err)

	body := envelope{Status: "fail", Code: code, Message: messageOf(err)}
	if status >= http.StatusInternalServerError {
		body.Status = "error"
		if !exposedServerCodes[code] {
			errutil.LogErrorContext(ctx, logger, "request failed", err)
			body.Message = genericServerMessage
		}
	}
	writeJSON(w, status, body)
}

func messageOf(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Error()
	}
	return err.Error()
}

// decodeJSON reads a single JSON object from r into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return oops.Code(CodeRequestInvalid).Errorf("request body is empty")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return oops.Code(CodeRequestInvalid).Errorf("request body exceeds %d bytes", maxBodyBytes)
		}
		return oops.Code(CodeRequestInvalid).Wrapf(err, "invalid JSON body")
	}
	return nil
}
