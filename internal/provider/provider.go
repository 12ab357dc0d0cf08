// Package provider defines the interface for mail transports.
package provider

import (
	"context"
	"errors"

	"github.com/shineum/contact-mailer/internal/email"
)

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("transport session is closed")

// Credentials authenticate the sender against the transport.
type Credentials struct {
	Username string
	Password string
}

// Provider opens transport sessions. A batch of messages is always sent
// over a single session.
type Provider interface {
	// Open establishes and authenticates a session. An error means no
	// message can be sent with these credentials.
	Open(ctx context.Context, creds Credentials) (Session, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Session is an open, authenticated transport connection.
type Session interface {
	// Send submits one message. A failure affects only this message; the
	// session stays usable for the next one.
	Send(ctx context.Context, msg *email.Email) error

	// Close releases the session. It must be called exactly once.
	Close() error
}
