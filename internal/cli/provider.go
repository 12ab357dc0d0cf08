package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/shineum/contact-mailer/internal/config"
	"github.com/shineum/contact-mailer/internal/provider"
	"github.com/shineum/contact-mailer/internal/provider/graph"
	"github.com/shineum/contact-mailer/internal/provider/ses"
	"github.com/shineum/contact-mailer/internal/provider/smtp"
	"github.com/shineum/contact-mailer/internal/provider/stdout"
)

// selectProvider builds the transport named by cfg.Transport.Provider. The
// stdout provider prints to out.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Transport.Provider {
	case "smtp":
		sec, err := smtp.ParseSecurity(cfg.SMTP.Security)
		if err != nil {
			return nil, err
		}
		logger.Info("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"security", sec,
		)
		p, err := smtp.New(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Security:           sec,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			Timeout:            cfg.SMTP.Timeout,
			LocalName:          cfg.SMTP.LocalName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SMTP provider: %w", err)
		}
		return p, nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses provider selected but SES_REGION is not set")
		}
		logger.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Endpoint:        cfg.SES.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
		}
		logger.Info("using Microsoft Graph provider", "save_to_sent_items", cfg.Graph.SaveToSentItems)
		p, err := graph.New(graph.Config{
			TenantID:        cfg.Graph.TenantID,
			ClientID:        cfg.Graph.ClientID,
			ClientSecret:    cfg.Graph.ClientSecret,
			SaveToSentItems: cfg.Graph.SaveToSentItems,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Graph provider: %w", err)
		}
		return p, nil

	case "stdout":
		logger.Info("using stdout provider")
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Transport.Provider)
	}
}
