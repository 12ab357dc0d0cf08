// Package stdout implements a dry-run Provider that prints messages instead
// of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider"
)

// Provider prints messages to a writer in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Open always succeeds; credentials are only echoed in the session banner.
func (p *Provider) Open(_ context.Context, creds provider.Credentials) (provider.Session, error) {
	return &session{writer: p.writer, sender: creds.Username}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

type session struct {
	mu     sync.Mutex
	writer io.Writer
	sender string
	closed bool
	count  int
}

// Send prints the message. Write errors are reported so a broken pipe is
// visible in the delivery report.
func (s *session) Send(_ context.Context, msg *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	if len(msg.To) == 0 {
		return email.ErrNoRecipient
	}

	if _, err := fmt.Fprint(s.writer, Format(msg)); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	s.count++
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	s.closed = true
	_, err := fmt.Fprintf(s.writer, "-- %d message(s) printed for %s --\n", s.count, s.sender)
	return err
}

// Format renders msg in the layout used by the dry-run output.
func Format(msg *email.Email) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")
	b.WriteString(msg.TextBody + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")
	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
