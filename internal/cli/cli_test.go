package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/contact-mailer/internal/config"
	"github.com/shineum/contact-mailer/internal/dispatch"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/ingest"
	"github.com/shineum/contact-mailer/internal/report"
	"github.com/shineum/contact-mailer/internal/sink"
)

var envKeys = []string{
	"PROVIDER", "SENDER_EMAIL", "SENDER_PASSWORD",
	"SMTP_HOST", "SMTP_PORT", "SMTP_SECURITY", "SMTP_TIMEOUT",
	"SES_REGION", "GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET",
	"TEMPLATE_SUBJECT", "TEMPLATE_BODY", "LOG_LEVEL", "LOG_FORMAT",
	"CONTACT_MAILER_ENV_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const contactsCSV = "Name,Email,Designation\nJane,jane@example.com,CTO\nJohn,john@example.com,CFO\n"

func TestIngestCommand(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "contacts.csv", contactsCSV+"Bad,,Intern\n")

	out, _, err := run(t, "ingest", path)
	require.NoError(t, err)

	var got []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)
	assert.Equal(t, map[string]string{"name": "Jane", "email": "jane@example.com", "designation": "CTO"}, got[0])
	assert.Equal(t, "", got[2]["email"])
}

func TestIngestCommand_Errors(t *testing.T) {
	clearEnv(t)

	_, _, err := run(t, "ingest", writeFile(t, "contacts.txt", "x"))
	var fe *ingest.FormatError
	require.ErrorAs(t, err, &fe)

	_, _, err = run(t, "ingest", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read contact file")

	_, _, err = run(t, "ingest")
	require.Error(t, err)
}

func TestPreviewCommand(t *testing.T) {
	clearEnv(t)

	out, _, err := run(t, "preview",
		"--subject", "Hi {name}",
		"--body", "As {designation}, {linkedin}",
		"--name", "Jane",
		"--designation", "CTO",
	)
	require.NoError(t, err)
	assert.Equal(t, "Subject: Hi Jane\n\nAs CTO, \n", out)
}

func TestPreviewCommand_TemplatesFromConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPLATE_SUBJECT", "Configured {name}")

	out, _, err := run(t, "preview", "--name", "Jane", "--designation", "CTO")
	require.NoError(t, err)
	assert.Contains(t, out, "Subject: Configured Jane\n")
	assert.Contains(t, out, "Dear Jane,")
	assert.Contains(t, out, "your role as CTO")
}

func TestSendCommand_Stdout(t *testing.T) {
	clearEnv(t)
	contacts := writeFile(t, "contacts.csv", contactsCSV+"Bad,not-an-address,Intern\n")
	att := writeFile(t, "brochure.pdf", "%PDF-1.4")

	out, _, err := run(t, "send",
		"--provider", "stdout",
		"--contacts", contacts,
		"--attachment", att,
		"--sender", "me@example.com",
		"--subject", "Hi {name}",
		"--body", "Dear {name}",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Subject: Hi Jane")
	assert.Contains(t, out, "To: john@example.com")
	assert.Contains(t, out, "Attachments: brochure.pdf (8 B)")
	assert.Contains(t, out, `"success": 2`)
	assert.Contains(t, out, `"failed": 1`)
	assert.Contains(t, out, `"email": "not-an-address"`)
}

func TestSendCommand_MissingSender(t *testing.T) {
	clearEnv(t)

	_, _, err := run(t, "send", "--provider", "stdout", "--contacts", writeFile(t, "c.csv", contactsCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sender address is required")
}

func TestSendCommand_RequiresContacts(t *testing.T) {
	clearEnv(t)

	_, _, err := run(t, "send", "--provider", "stdout", "--sender", "me@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contacts")
}

func startSink(t *testing.T) (*sink.Mailbox, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	mb := sink.NewMailbox()
	srv, done, err := sink.Start(ctx, sink.ServerConfig{
		ListenAddr:   "127.0.0.1:0",
		Handler:      mb,
		AuthUsername: "me@example.com",
		AuthPassword: "app-password",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		<-done
	})

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	return mb, port
}

func TestSendCommand_SMTP(t *testing.T) {
	clearEnv(t)
	mb, port := startSink(t)
	t.Setenv("SMTP_HOST", "127.0.0.1")
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_SECURITY", "none")
	t.Setenv("SENDER_EMAIL", "me@example.com")
	t.Setenv("MAILER_TEST_PASSWORD", "app-password")

	out, _, err := run(t, "send",
		"--contacts", writeFile(t, "contacts.csv", contactsCSV),
		"--password-env", "MAILER_TEST_PASSWORD",
		"--subject", "Hello {name}",
	)
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 2, rep.Success)
	assert.True(t, rep.Consistent())

	msgs := mb.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello Jane", msgs[0].Subject)
	assert.Equal(t, []string{"john@example.com"}, msgs[1].To)
}

func TestSendCommand_TransportError(t *testing.T) {
	clearEnv(t)
	mb, port := startSink(t)
	t.Setenv("SMTP_HOST", "127.0.0.1")
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_SECURITY", "none")
	t.Setenv("SENDER_PASSWORD", "wrong")

	out, _, err := run(t, "send",
		"--contacts", writeFile(t, "contacts.csv", contactsCSV),
		"--sender", "me@example.com",
	)
	var te *dispatch.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "smtp", te.Provider)
	assert.Empty(t, out)
	assert.Zero(t, mb.Len())
}

func TestRoot_FlagOverrides(t *testing.T) {
	clearEnv(t)

	_, _, err := run(t, "--provider", "pigeon", "preview")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transport provider "pigeon"`)

	_, _, err = run(t, "--log-format", "xml", "preview")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}

func TestRoot_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "templates:\n  subject: \"From file {name}\"\nlogging:\n  format: text\n")

	out, _, err := run(t, "--config", path, "preview", "--name", "Jane")
	require.NoError(t, err)
	assert.Contains(t, out, "Subject: From file Jane")

	_, _, err = run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "preview")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSelectProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantName string
		wantErr  string
	}{
		{name: "smtp", mutate: func(*config.Config) {}, wantName: "smtp"},
		{name: "stdout", mutate: func(c *config.Config) { c.Transport.Provider = "stdout" }, wantName: "stdout"},
		{
			name: "graph",
			mutate: func(c *config.Config) {
				c.Transport.Provider = "graph"
				c.Graph = config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
			},
			wantName: "msgraph",
		},
		{name: "ses unconfigured", mutate: func(c *config.Config) { c.Transport.Provider = "ses" }, wantErr: "SES_REGION"},
		{name: "graph unconfigured", mutate: func(c *config.Config) { c.Transport.Provider = "graph" }, wantErr: "GRAPH_TENANT_ID"},
		{name: "bad security", mutate: func(c *config.Config) { c.SMTP.Security = "bogus" }, wantErr: "bogus"},
		{name: "unknown", mutate: func(c *config.Config) { c.Transport.Provider = "fax" }, wantErr: `unknown provider "fax"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Transport: config.TransportConfig{Provider: "smtp"},
				SMTP:      config.SMTPConfig{Host: "smtp.example.com", Port: 465, Security: "ssl"},
			}
			tt.mutate(cfg)

			p, err := selectProvider(context.Background(), cfg, io.Discard, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestSinkTLS(t *testing.T) {
	tlsConfig, mode, err := sinkTLS(config.SinkConfig{Hostname: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, "self-signed", mode)
	require.Len(t, tlsConfig.Certificates, 1)

	_, _, err = sinkTLS(config.SinkConfig{CertFile: "cert.pem"})
	require.Error(t, err)
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	h := printer(&buf)

	err := h.Deliver(context.Background(), &email.Email{
		From:     "me@example.com",
		To:       []string{"jane@example.com"},
		Subject:  "Hi Jane",
		TextBody: "Dear Jane",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "To: jane@example.com\nSubject: Hi Jane\n")
}
