package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout bounds the wait for in-flight sessions on shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for a sink server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:2525").
	ListenAddr string

	// Hostname is announced in the greeting and EHLO responses.
	Hostname string

	// Handler receives accepted messages. A nil Handler discards them.
	Handler Handler

	// TLSConfig enables STARTTLS, or implicit TLS when ImplicitTLS is set.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// AuthUsername and AuthPassword configure SMTP AUTH. If both are
	// empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// RejectRecipients lists patterns refused at RCPT with a 550.
	RejectRecipients []string

	Logger *slog.Logger
}

// Server accepts SMTP connections and hands messages to a Handler.
type Server struct {
	config ServerConfig
	auth   *Authenticator
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a sink server.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
		logger: logger.With("component", "sink"),
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits up to
// 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.ImplicitTLS {
		if s.config.TLSConfig == nil {
			ln.Close()
			return errors.New("sink: implicit TLS requires a TLS config")
		}
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("SMTP sink listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"implicit_tls", s.config.ImplicitTLS,
	)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down SMTP sink")
		ln.Close()
	}()

	sessionCfg := SessionConfig{
		Hostname:  s.config.Hostname,
		Auth:      s.auth,
		Handler:   s.config.Handler,
		TLSConfig: s.config.TLSConfig,
		TLSActive: s.config.ImplicitTLS,
		Reject:    s.config.RejectRecipients,
		Logger:    s.logger,
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForSessions()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(conn, sessionCfg).Handle(ctx)
		}()
	}
}

func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or an empty string before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Start listens on cfg.ListenAddr and serves in the background. The
// returned channel yields the result of Serve after ctx is cancelled.
func Start(ctx context.Context, cfg ServerConfig) (*Server, <-chan error, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, nil, err
	}

	srv := New(cfg)
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()
	return srv, done, nil
}
