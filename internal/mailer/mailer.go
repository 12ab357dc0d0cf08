// Package mailer is the core facade shared by the HTTP API and the command
// line: ingest a contact file, preview a template, send a batch.
package mailer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shineum/contact-mailer/internal/contact"
	"github.com/shineum/contact-mailer/internal/dispatch"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/ingest"
	"github.com/shineum/contact-mailer/internal/metrics"
	"github.com/shineum/contact-mailer/internal/provider"
	"github.com/shineum/contact-mailer/internal/render"
	"github.com/shineum/contact-mailer/internal/report"
)

// ErrNoTransport is returned by Send on a Service created without a provider.
var ErrNoTransport = errors.New("no mail transport configured")

// Service wires the ingestion, rendering and dispatch steps together. It
// keeps no per-request state.
type Service struct {
	dispatcher *dispatch.Dispatcher
	defaults   render.Template
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service and its dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithDefaultTemplate sets the templates used when a request leaves the
// subject or body empty.
func WithDefaultTemplate(t render.Template) Option {
	return func(s *Service) {
		s.defaults = t
	}
}

// New creates a Service sending through p. A nil p gives a Service that can
// ingest and preview but not send.
func New(p provider.Provider, opts ...Option) *Service {
	s := &Service{
		defaults: render.DefaultTemplate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if p != nil {
		s.dispatcher = dispatch.New(p, dispatch.WithLogger(s.logger))
	}
	return s
}

// Ingest parses a contact file, choosing the format from filename.
func (s *Service) Ingest(filename string, data []byte) ([]contact.Contact, error) {
	contacts, err := ingest.Ingest(filename, data)
	if err != nil {
		s.logger.Warn("contact ingestion failed", "filename", filename, "error", err)
		return nil, err
	}

	// The extension was validated by Ingest.
	f, _ := ingest.FormatFromFilename(filename)
	metrics.ContactsIngested.WithLabelValues(string(f)).Add(float64(len(contacts)))
	s.logger.Info("contacts ingested", "filename", filename, "format", f, "contacts", len(contacts))
	return contacts, nil
}

// Preview renders t against sample fields.
func (s *Service) Preview(t render.Template, sample render.Fields) render.Rendered {
	return render.Preview(t, sample)
}

// DefaultTemplate returns the configured fallback templates.
func (s *Service) DefaultTemplate() render.Template {
	return s.defaults
}

// Send dispatches one batch. Empty templates in cfg are filled from the
// service defaults.
func (s *Service) Send(ctx context.Context, cfg dispatch.EmailConfig, contacts []contact.Contact, att *email.Attachment) (*report.Report, error) {
	if s.dispatcher == nil {
		return nil, ErrNoTransport
	}
	if cfg.SubjectTemplate == "" {
		cfg.SubjectTemplate = s.defaults.Subject
	}
	if cfg.BodyTemplate == "" {
		cfg.BodyTemplate = s.defaults.Body
	}
	return s.dispatcher.Dispatch(ctx, cfg, contacts, att)
}
