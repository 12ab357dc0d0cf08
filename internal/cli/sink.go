package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-mailer/internal/certs"
	"github.com/shineum/contact-mailer/internal/config"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider/stdout"
	"github.com/shineum/contact-mailer/internal/sink"
)

func newSinkCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local SMTP server that prints every message it receives",
		Long: `Run a local SMTP server for trying out a batch without delivering
anything. Point the SMTP transport at it with SMTP_HOST, SMTP_PORT and
SMTP_SECURITY. Recipients matching SINK_REJECT_RECIPIENTS are refused to
simulate bounces.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Sink.Listen = listen
			}

			tlsConfig, tlsMode, err := sinkTLS(a.cfg.Sink)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := sink.New(sink.ServerConfig{
				ListenAddr:       a.cfg.Sink.Listen,
				Hostname:         a.cfg.Sink.Hostname,
				Handler:          printer(cmd.OutOrStdout()),
				TLSConfig:        tlsConfig,
				ImplicitTLS:      a.cfg.Sink.ImplicitTLS,
				AuthUsername:     a.cfg.Sink.Username,
				AuthPassword:     a.cfg.Sink.Password,
				RejectRecipients: a.cfg.Sink.RejectRecipients,
				Logger:           a.logger,
			})

			a.logger.Info("starting contact-mailer sink",
				"listen", a.cfg.Sink.Listen,
				"auth_enabled", a.cfg.SinkAuthEnabled(),
				"tls_mode", tlsMode,
				"implicit_tls", a.cfg.Sink.ImplicitTLS,
			)
			if err := srv.ListenAndServe(ctx); err != nil {
				return err
			}
			a.logger.Info("contact-mailer sink stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}

// sinkTLS loads the configured certificate, or generates a self-signed one
// for the sink hostname.
func sinkTLS(cfg config.SinkConfig) (*tls.Config, string, error) {
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		tlsConfig, err := certs.ServerConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, "", err
		}
		return tlsConfig, "file", nil
	}

	hosts := []string{"127.0.0.1"}
	if cfg.Hostname != "" {
		hosts = append([]string{cfg.Hostname}, hosts...)
	}
	cert, err := certs.SelfSigned(hosts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}, "self-signed", nil
}

// printer writes each received message to w.
func printer(w io.Writer) sink.Handler {
	var mu sync.Mutex
	return sink.HandlerFunc(func(_ context.Context, msg *email.Email) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprint(w, stdout.Format(msg))
		return err
	})
}
