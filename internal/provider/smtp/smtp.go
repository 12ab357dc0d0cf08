// Package smtp implements a Provider that submits messages to an SMTP
// server, reusing one authenticated connection for a whole batch.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider"
)

// Security selects how the connection is protected.
type Security string

const (
	// SecuritySSL uses implicit TLS from the first byte (usually port 465).
	SecuritySSL Security = "ssl"
	// SecuritySTARTTLS upgrades a plain connection (usually port 587).
	SecuritySTARTTLS Security = "starttls"
	// SecurityNone never negotiates TLS. Servers other than localhost will
	// refuse PLAIN credentials.
	SecurityNone Security = "none"
)

const defaultTimeout = 30 * time.Second

// Config describes the SMTP server.
type Config struct {
	Host               string
	Port               int
	Security           Security
	InsecureSkipVerify bool
	Timeout            time.Duration
	// LocalName is sent in EHLO. Empty means "localhost".
	LocalName string
}

// ParseSecurity converts a configuration string into a Security mode.
func ParseSecurity(s string) (Security, error) {
	switch sec := Security(strings.ToLower(strings.TrimSpace(s))); sec {
	case SecuritySSL, SecuritySTARTTLS, SecurityNone:
		return sec, nil
	case "", "tls":
		return SecuritySSL, nil
	default:
		return "", fmt.Errorf("unknown smtp security mode %q", s)
	}
}

// Option customizes a Provider.
type Option func(*Provider)

// WithTLSConfig sets the TLS client config used for ssl and starttls.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(p *Provider) {
		p.tlsConfig = cfg
	}
}

// WithDialer replaces the network dialer.
func WithDialer(d *net.Dialer) Option {
	return func(p *Provider) {
		p.dialer = d
	}
}

// Provider opens SMTP sessions.
type Provider struct {
	cfg       Config
	tlsConfig *tls.Config
	dialer    *net.Dialer
}

// New creates an SMTP Provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid smtp port %d", cfg.Port)
	}
	if cfg.Security == "" {
		cfg.Security = SecuritySSL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	p := &Provider{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.dialer == nil {
		p.dialer = &net.Dialer{Timeout: cfg.Timeout}
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Open connects, negotiates TLS, and authenticates with creds. Any failure
// closes the connection.
func (p *Provider) Open(ctx context.Context, creds provider.Credentials) (provider.Session, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	if p.cfg.Security == SecuritySSL {
		tlsConn := tls.Client(conn, p.clientTLS())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	if err := conn.SetDeadline(deadline(ctx, p.cfg.Timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	c, err := gosmtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("greeting from %s: %w", addr, err)
	}

	if err := p.handshake(c, creds); err != nil {
		c.Close()
		return nil, err
	}

	return &session{client: c, conn: conn, timeout: p.cfg.Timeout}, nil
}

func (p *Provider) handshake(c *gosmtp.Client, creds provider.Credentials) error {
	localName := p.cfg.LocalName
	if localName == "" {
		localName = "localhost"
	}
	if err := c.Hello(localName); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	if p.cfg.Security == SecuritySTARTTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("server does not support STARTTLS")
		}
		if err := c.StartTLS(p.clientTLS()); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if creds.Username == "" && creds.Password == "" {
		return nil
	}

	ok, mechanisms := c.Extension("AUTH")
	if !ok {
		return errors.New("server does not support AUTH")
	}
	auth, err := chooseAuth(mechanisms, creds, p.cfg.Host)
	if err != nil {
		return err
	}
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (p *Provider) clientTLS() *tls.Config {
	var cfg *tls.Config
	if p.tlsConfig != nil {
		cfg = p.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = p.cfg.Host
	}
	if p.cfg.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

type session struct {
	mu      sync.Mutex
	client  *gosmtp.Client
	conn    net.Conn
	timeout time.Duration
	closed  bool
}

// Send runs one MAIL/RCPT/DATA transaction. A rejected transaction is
// followed by RSET so the connection can carry the next message.
func (s *session) Send(ctx context.Context, msg *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to, err := envelope(msg)
	if err != nil {
		return err
	}

	if err := s.conn.SetDeadline(deadline(ctx, s.timeout)); err != nil {
		return err
	}

	// Cancellation expires the deadline so a blocked read or write returns.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	err = s.transaction(from, to, msg)
	if !stop() {
		// The connection is no longer in a known protocol state.
		return errors.Join(ctx.Err(), err)
	}
	if err != nil {
		if rerr := s.client.Reset(); rerr != nil {
			return errors.Join(err, fmt.Errorf("reset: %w", rerr))
		}
		return err
	}
	return nil
}

func (s *session) transaction(from string, to []string, msg *email.Email) error {
	if err := s.client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := s.client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.Compose().WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close sends QUIT, falling back to dropping the connection.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	s.closed = true

	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	if err := s.client.Quit(); err != nil {
		s.client.Close()
		return err
	}
	return nil
}

// envelope extracts the bare sender and recipient addresses.
func envelope(msg *email.Email) (string, []string, error) {
	if len(msg.To) == 0 {
		return "", nil, email.ErrNoRecipient
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return "", nil, fmt.Errorf("invalid sender address %q: %w", msg.From, err)
	}

	to := make([]string, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return "", nil, fmt.Errorf("invalid recipient address %q: %w", raw, err)
		}
		to = append(to, addr.Address)
	}
	return from.Address, to, nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
