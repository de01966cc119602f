// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package mail delivers account messages produced by the auth service.
package mail

import (
	"fmt"
	"strings"

	"github.com/natours/natours/internal/auth"
)

// Kind identifies a message template.
type Kind string

// Message kinds.
const (
	KindWelcome       Kind = "welcome"
	KindPasswordReset Kind = "password_reset"
)

// Message is a rendered account message.
type Message struct {
	Kind    Kind
	To      string
	Name    string
	Subject string
	Body    string
	URL     string
}

// firstName returns the first word of a display name.
func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}

// WelcomeMessage renders the signup greeting for u.
func WelcomeMessage(u *auth.User, profileURL string) Message {
	first := firstName(u.Name)
	return Message{
		Kind:    KindWelcome,
		To:      u.Email,
		Name:    first,
		Subject: "Welcome to the Natours family!",
		Body: fmt.Sprintf("Hi %s,\n\nWelcome to Natours, we're glad to have you.\n"+
			"Upload a photo and complete your profile at %s\n", first, profileURL),
		URL: profileURL,
	}
}

// PasswordResetMessage renders the reset instructions for u.
func PasswordResetMessage(u *auth.User, resetURL string, ttlMinutes int) Message {
	first := firstName(u.Name)
	return Message{
		Kind:    KindPasswordReset,
		To:      u.Email,
		Name:    first,
		Subject: fmt.Sprintf("Your password reset token (valid for only %d minutes)", ttlMinutes),
		Body: fmt.Sprintf("Hi %s,\n\nForgot your password? Submit a PATCH request with your new "+
			"password and passwordConfirm to: %s\n"+
			"If you didn't forget your password, please ignore this email.\n", first, resetURL),
		URL: resetURL,
	}
}
