// Package render substitutes contact fields into subject and body templates.
//
// Substitution is literal: every "{field}" token for a canonical field is
// replaced by the field value, or by the empty string when the field is
// absent. Any other brace expression is left untouched.
package render

import (
	"strings"

	"github.com/shineum/contact-mailer/internal/contact"
)

// Template is a subject/body pair with {field} placeholders.
type Template struct {
	Subject string `json:"subject_template" yaml:"subject"`
	Body    string `json:"body_template" yaml:"body"`
}

// Rendered is the result of applying a Template to one set of fields.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Fields maps canonical field names to values.
type Fields map[string]string

// DefaultTemplate is used when no template is configured.
var DefaultTemplate = Template{
	Subject: "Professional Connection Request - {name}",
	Body: `Dear {name},

I noticed your profile and your role as {designation} and would like to connect with you regarding potential collaboration opportunities.

[Your message content here]

Best regards,
[Your name]`,
}

// Render applies f to t. Fields are substituted one after another in
// canonical order.
func Render(t Template, f Fields) Rendered {
	subject, body := t.Subject, t.Body
	for _, field := range contact.CanonicalFields {
		token := "{" + field + "}"
		value := f[field]
		subject = strings.ReplaceAll(subject, token, value)
		body = strings.ReplaceAll(body, token, value)
	}
	return Rendered{Subject: subject, Body: body}
}

// Preview renders t against a sample field set supplied by the caller.
func Preview(t Template, sample Fields) Rendered {
	return Render(t, sample)
}

// ForContact renders t for one recipient.
func ForContact(t Template, c contact.Contact) Rendered {
	return Render(t, c.Fields())
}

// Placeholders returns the canonical fields referenced by t, in canonical
// order.
func Placeholders(t Template) []string {
	var used []string
	for _, field := range contact.CanonicalFields {
		token := "{" + field + "}"
		if strings.Contains(t.Subject, token) || strings.Contains(t.Body, token) {
			used = append(used, field)
		}
	}
	return used
}
