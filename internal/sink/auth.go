// Package sink implements a local SMTP server that accepts messages from
// the SMTP transport and stores them in a mailbox instead of relaying them.
package sink

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrAuthFailed indicates credentials that do not match.
	ErrAuthFailed = errors.New("authentication failed")

	errBadEncoding = errors.New("invalid base64 encoding")
	errBadPlain    = errors.New("invalid AUTH PLAIN format")
)

// Authenticator verifies SMTP AUTH credentials.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator. If both username and password
// are empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: username, password: password}
}

// Enabled reports whether credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// VerifyPlain checks an AUTH PLAIN response: base64(authzid\0authcid\0password).
// It returns the authenticated username.
func (a *Authenticator) VerifyPlain(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errBadEncoding
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return "", errBadPlain
	}

	return parts[1], a.check(parts[1], parts[2])
}

// VerifyLogin checks base64-encoded AUTH LOGIN answers.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) (string, error) {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return "", errBadEncoding
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return "", errBadEncoding
	}

	return string(user), a.check(string(user), string(pass))
}

func (a *Authenticator) check(user, pass string) error {
	if user != a.username || pass != a.password {
		return ErrAuthFailed
	}
	return nil
}
