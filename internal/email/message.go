// Package email defines the outbound message envelope shared by every
// transport.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/gomail.v2"
)

// DefaultContentType is used for attachments with no declared type.
const DefaultContentType = "application/octet-stream"

// ErrNoRecipient indicates a message without any To address.
var ErrNoRecipient = errors.New("email must have at least one recipient")

// Email is one plain-text message addressed to one or more recipients.
type Email struct {
	MessageID   string
	From        string
	To          []string
	Subject     string
	TextBody    string
	Attachments []Attachment

	// RawHeaders is only set on messages decoded from the wire.
	RawHeaders map[string][]string
}

// Attachment is a file attached to a message. Content is shared between
// messages and must not be modified after construction.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// NewAttachment creates an attachment with the default content type.
func NewAttachment(filename string, content []byte) *Attachment {
	return &Attachment{
		Filename:    filename,
		ContentType: DefaultContentType,
		Content:     content,
	}
}

// Compose builds the MIME representation of the message: a text/plain
// part followed by one base64 part per attachment.
func (e *Email) Compose() *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", e.From)
	m.SetHeader("To", e.To...)
	m.SetHeader("Subject", e.Subject)
	if e.MessageID != "" {
		m.SetHeader("Message-ID", e.MessageID)
	}
	m.SetBody("text/plain", e.TextBody)

	for _, att := range e.Attachments {
		content := att.Content
		contentType := att.ContentType
		if contentType == "" {
			contentType = DefaultContentType
		}
		m.Attach(att.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type": {contentType},
			}),
		)
	}

	return m
}

// Raw returns the message encoded as RFC 5322 bytes.
func (e *Email) Raw() ([]byte, error) {
	if len(e.To) == 0 {
		return nil, ErrNoRecipient
	}

	var buf bytes.Buffer
	if _, err := e.Compose().WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// String returns a short description used in logs.
func (e *Email) String() string {
	return fmt.Sprintf("to=%s subject=%q attachments=%d",
		strings.Join(e.To, ","), e.Subject, len(e.Attachments))
}
