/*
Package cli provides the contact-mailer command line.
*/
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-mailer/internal/config"
	"github.com/shineum/contact-mailer/internal/logging"
	"github.com/shineum/contact-mailer/internal/render"
)

// app carries the persistent flags and the state they produce.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string
	provider  string

	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "contact-mailer",
		Short: "Send personalized emails to a list of contacts",
		Long: `contact-mailer reads a contact list (JSON, CSV, XLSX or XLS), fills a
subject and body template for every contact and sends one message per
contact over a single transport session.

Example:
  contact-mailer ingest contacts.csv              # Show normalized contacts
  contact-mailer preview --name Jane              # Render the templates once
  contact-mailer send --contacts contacts.xlsx    # Send the batch
  contact-mailer serve                            # Run the HTTP API
  contact-mailer sink                             # Run a local capture SMTP server`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "YAML config file (environment variables still take precedence)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: json or text")
	root.PersistentFlags().StringVar(&a.provider, "provider", "", "mail transport: smtp, ses, graph or stdout")

	root.AddCommand(newIngestCmd(a))
	root.AddCommand(newPreviewCmd(a))
	root.AddCommand(newSendCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newSinkCmd(a))
	return root
}

// init loads the configuration, applies flag overrides and builds the
// default logger. Logs go to stderr so stdout stays machine readable.
func (a *app) init(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.cfgFile != "" {
		cfg, err = config.LoadFromFile(a.cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Merge(config.Config{
		Transport: config.TransportConfig{Provider: a.provider},
		Logging:   config.LoggingConfig{Level: a.logLevel, Format: a.logFormat},
	}); err != nil {
		return err
	}

	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// template returns the configured templates, falling back per field to
// render.DefaultTemplate.
func (a *app) template() render.Template {
	t := render.Template{
		Subject: a.cfg.Templates.Subject,
		Body:    a.cfg.Templates.Body,
	}
	if t.Subject == "" {
		t.Subject = render.DefaultTemplate.Subject
	}
	if t.Body == "" {
		t.Body = render.DefaultTemplate.Body
	}
	return t
}
