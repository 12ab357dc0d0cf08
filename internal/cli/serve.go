package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-mailer/internal/api"
	"github.com/shineum/contact-mailer/internal/mailer"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.HTTP.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := selectProvider(ctx, a.cfg, cmd.OutOrStdout(), a.logger)
			if err != nil {
				return err
			}
			svc := mailer.New(p, mailer.WithLogger(a.logger), mailer.WithDefaultTemplate(a.template()))
			srv := api.New(svc,
				api.WithLogger(a.logger),
				api.WithMaxUploadSize(a.cfg.HTTP.MaxUploadSize),
			)

			a.logger.Info("starting contact-mailer api", "listen", listen, "provider", p.Name())
			if err := srv.ListenAndServe(ctx, listen); err != nil {
				return err
			}
			a.logger.Info("contact-mailer api stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}
