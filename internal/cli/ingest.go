package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-mailer/internal/contact"
	"github.com/shineum/contact-mailer/internal/mailer"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Parse a contact file and print the normalized contacts",
		Long: `Parse a JSON, CSV, XLSX or XLS contact file and print the normalized
contacts as a JSON array. The format is chosen from the file extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := readContacts(a, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(contacts)
		},
	}
}

// readContacts loads and normalizes the contact file at path.
func readContacts(a *app, path string) ([]contact.Contact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact file: %w", err)
	}
	svc := mailer.New(nil, mailer.WithLogger(a.logger))
	return svc.Ingest(filepath.Base(path), data)
}
