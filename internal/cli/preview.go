package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-mailer/internal/contact"
	"github.com/shineum/contact-mailer/internal/mailer"
	"github.com/shineum/contact-mailer/internal/render"
)

func newPreviewCmd(a *app) *cobra.Command {
	var (
		subject string
		body    string
		sample  = render.Fields{}
	)
	fields := map[string]*string{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the subject and body templates for a sample contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := a.template()
			if cmd.Flags().Changed("subject") {
				t.Subject = subject
			}
			if cmd.Flags().Changed("body") {
				t.Body = body
			}
			for field, v := range fields {
				sample[field] = *v
			}

			svc := mailer.New(nil, mailer.WithLogger(a.logger))
			out := svc.Preview(t, sample)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Subject: %s\n\n%s\n", out.Subject, out.Body)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "subject template (default from config)")
	cmd.Flags().StringVar(&body, "body", "", "body template (default from config)")
	for _, field := range contact.CanonicalFields {
		fields[field] = cmd.Flags().String(field, "", "sample value for {"+field+"}")
	}
	return cmd
}
