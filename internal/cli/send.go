package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-mailer/internal/dispatch"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/mailer"
)

type sendOptions struct {
	contacts    string
	attachment  string
	sender      string
	passwordEnv string
	subject     string
	body        string
}

func newSendCmd(a *app) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one personalized message to every contact",
		Long: `Send one personalized message to every contact in the file over a single
transport session and print the delivery report as JSON.

The sender password is read from the environment variable named by
--password-env, falling back to SENDER_PASSWORD from the config. Failing
recipients are listed in the report; the command only fails when the
transport session cannot be opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.contacts, "contacts", "", "contact file (.json, .csv, .xlsx or .xls)")
	cmd.Flags().StringVar(&opts.attachment, "attachment", "", "file attached to every message")
	cmd.Flags().StringVar(&opts.sender, "sender", "", "sender address (default SENDER_EMAIL)")
	cmd.Flags().StringVar(&opts.passwordEnv, "password-env", "SENDER_PASSWORD", "environment variable holding the sender password")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject template (default from config)")
	cmd.Flags().StringVar(&opts.body, "body", "", "body template (default from config)")
	_ = cmd.MarkFlagRequired("contacts")
	return cmd
}

func runSend(cmd *cobra.Command, a *app, opts *sendOptions) error {
	cfg := dispatch.EmailConfig{
		SenderEmail:    a.cfg.Sender.Email,
		SenderPassword: a.cfg.Sender.Password,
	}
	if opts.sender != "" {
		cfg.SenderEmail = opts.sender
	}
	if opts.passwordEnv != "" {
		if v := os.Getenv(opts.passwordEnv); v != "" {
			cfg.SenderPassword = v
		}
	}
	if cfg.SenderEmail == "" {
		return errors.New("sender address is required (--sender or SENDER_EMAIL)")
	}

	t := a.template()
	cfg.SubjectTemplate, cfg.BodyTemplate = t.Subject, t.Body
	if opts.subject != "" {
		cfg.SubjectTemplate = opts.subject
	}
	if opts.body != "" {
		cfg.BodyTemplate = opts.body
	}

	contacts, err := readContacts(a, opts.contacts)
	if err != nil {
		return err
	}

	var att *email.Attachment
	if opts.attachment != "" {
		data, err := os.ReadFile(opts.attachment)
		if err != nil {
			return fmt.Errorf("failed to read attachment: %w", err)
		}
		att = email.NewAttachment(filepath.Base(opts.attachment), data)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := selectProvider(ctx, a.cfg, cmd.OutOrStdout(), a.logger)
	if err != nil {
		return err
	}
	svc := mailer.New(p, mailer.WithLogger(a.logger), mailer.WithDefaultTemplate(t))

	rep, err := svc.Send(ctx, cfg, contacts, att)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
