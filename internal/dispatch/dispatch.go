// Package dispatch sends one personalized message per contact over a
// single transport session and reports per-recipient outcomes.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/contact-mailer/internal/contact"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/metrics"
	"github.com/shineum/contact-mailer/internal/provider"
	"github.com/shineum/contact-mailer/internal/render"
	"github.com/shineum/contact-mailer/internal/report"
)

const defaultMessageIDDomain = "contact-mailer"

// EmailConfig is the sender identity and the templates for one batch.
type EmailConfig struct {
	SenderEmail     string `json:"sender_email"`
	SenderPassword  string `json:"sender_password"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
}

// Template returns the subject and body templates.
func (c EmailConfig) Template() render.Template {
	return render.Template{Subject: c.SubjectTemplate, Body: c.BodyTemplate}
}

// LogValue keeps the password out of logs.
func (c EmailConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sender", c.SenderEmail),
		slog.Int("subject_len", len(c.SubjectTemplate)),
		slog.Int("body_len", len(c.BodyTemplate)),
	)
}

// State is the lifecycle stage of a batch session.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMessageIDDomain sets the right-hand side of generated Message-IDs.
func WithMessageIDDomain(domain string) Option {
	return func(d *Dispatcher) {
		d.messageIDDomain = domain
	}
}

// Dispatcher runs batches against one provider. It holds no per-batch
// state and may be shared.
type Dispatcher struct {
	provider        provider.Provider
	logger          *slog.Logger
	messageIDDomain string
}

// New creates a Dispatcher for p.
func New(p provider.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider:        p,
		logger:          slog.Default(),
		messageIDDomain: defaultMessageIDDomain,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch opens one session with the sender credentials and sends every
// contact its rendered message, in order. Only a session that cannot be
// opened fails the call, as a *TransportError; per-recipient failures are
// entries in the returned report. att may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg EmailConfig, contacts []contact.Contact, att *email.Attachment) (*report.Report, error) {
	name := d.provider.Name()
	log := d.logger.With("batch_id", uuid.NewString(), "provider", name)
	start := time.Now()

	state := StateIdle
	log.Info("dispatch starting", "contacts", len(contacts), "config", cfg, "attachment", att != nil)

	sess, err := d.provider.Open(ctx, provider.Credentials{
		Username: cfg.SenderEmail,
		Password: cfg.SenderPassword,
	})
	if err != nil {
		metrics.Batches.WithLabelValues(name, "transport_error").Inc()
		log.Error("failed to open transport session", "state", state, "error", err)
		return nil, &TransportError{Provider: name, Err: err}
	}

	state = StateConnected
	log.Debug("session opened", "state", state)

	rec := report.NewRecorder(len(contacts))
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to close transport session", "error", err)
		}
		state = StateClosed
		r := rec.Report()
		metrics.Batches.WithLabelValues(name, "completed").Inc()
		metrics.BatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		log.Info("dispatch finished",
			"state", state,
			"total", r.Total,
			"success", r.Success,
			"failed", r.Failed,
			"duration", time.Since(start),
		)
	}()

	state = StateSending
	log.Debug("sending", "state", state)

	tmpl := cfg.Template()
	for i, c := range contacts {
		if err := ctx.Err(); err != nil {
			remaining := contacts[i:]
			for _, rest := range remaining {
				rec.Failure(rest.Address(), &RecipientError{Email: rest.Address(), Err: err})
			}
			metrics.MessagesFailed.WithLabelValues(name, metrics.ReasonCancelled).Add(float64(len(remaining)))
			log.Warn("dispatch cancelled", "remaining", len(remaining), "error", err)
			break
		}

		addr := c.Address()
		if !c.Valid() {
			rec.Failure(addr, &RecipientError{Email: addr, Err: ErrInvalidAddress})
			metrics.MessagesFailed.WithLabelValues(name, metrics.ReasonInvalidAddress).Inc()
			log.Warn("skipping invalid address", "index", i, "email", addr)
			continue
		}

		rendered := render.ForContact(tmpl, c)
		msg := &email.Email{
			MessageID: d.messageID(),
			From:      cfg.SenderEmail,
			To:        []string{addr},
			Subject:   rendered.Subject,
			TextBody:  rendered.Body,
		}
		if att != nil {
			msg.Attachments = []email.Attachment{*att}
		}

		if err := sess.Send(ctx, msg); err != nil {
			rec.Failure(addr, &RecipientError{Email: addr, Err: err})
			metrics.MessagesFailed.WithLabelValues(name, metrics.ReasonSend).Inc()
			log.Warn("recipient failed", "index", i, "email", addr, "error", err)
			continue
		}

		rec.Success()
		metrics.MessagesSent.WithLabelValues(name).Inc()
		log.Debug("message sent", "index", i, "email", addr, "message_id", msg.MessageID)
	}

	return rec.Report(), nil
}

func (d *Dispatcher) messageID() string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), d.messageIDDomain)
}
