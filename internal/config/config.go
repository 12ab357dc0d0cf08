// Package config provides environment-variable-first configuration loading
// with an optional YAML base and .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// defaultMaxUploadSize is 25 MB in bytes.
	defaultMaxUploadSize = 26214400

	// envFileVar names an alternative .env file.
	envFileVar     = "CONTACT_MAILER_ENV_FILE"
	defaultEnvFile = ".env"
)

// Config holds the complete application configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Sender    SenderConfig    `yaml:"sender"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	HTTP      HTTPConfig      `yaml:"http"`
	Sink      SinkConfig      `yaml:"sink"`
	Templates TemplatesConfig `yaml:"templates"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig selects the mail transport: smtp, ses, graph, or stdout.
type TransportConfig struct {
	Provider string `yaml:"provider"`
}

// SenderConfig holds default sender credentials for the command line.
type SenderConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// SMTPConfig describes the outbound SMTP server.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Security           string        `yaml:"security"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
	LocalName          string        `yaml:"local_name"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	SaveToSentItems bool   `yaml:"save_to_sent_items"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Listen        string `yaml:"listen"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

// SinkConfig configures the local capture SMTP server.
type SinkConfig struct {
	Listen           string   `yaml:"listen"`
	Hostname         string   `yaml:"hostname"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	CertFile         string   `yaml:"cert_file"`
	KeyFile          string   `yaml:"key_file"`
	ImplicitTLS      bool     `yaml:"implicit_tls"`
	RejectRecipients []string `yaml:"reject_recipients"`
}

// TemplatesConfig holds the default subject and body templates.
type TemplatesConfig struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from defaults, the .env file, and environment
// variables. Environment variables always take precedence.
func Load() (*Config, error) {
	return load("")
}

// LoadFromFile loads a YAML file as the base layer, then applies the .env
// file and environment variables. A missing file is an error.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is empty")
	}
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	dotenv, err := readEnvFile()
	if err != nil {
		return nil, err
	}

	cfg.applyEnvVars(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readEnvFile reads the .env file without touching the process
// environment. A missing default file is not an error.
func readEnvFile() (map[string]string, error) {
	path := os.Getenv(envFileVar)
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return values, nil
}

// Merge copies every non-zero field of overrides onto c.
func (c *Config) Merge(overrides Config) error {
	if err := mergo.Merge(c, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config overrides: %w", err)
	}
	return c.Validate()
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Transport.Provider {
	case "smtp", "ses", "graph", "stdout":
	default:
		return fmt.Errorf("unknown transport provider %q", c.Transport.Provider)
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp port %d", c.SMTP.Port)
	}
	switch strings.ToLower(c.SMTP.Security) {
	case "ssl", "tls", "starttls", "none":
	default:
		return fmt.Errorf("unknown smtp security mode %q", c.SMTP.Security)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.HTTP.MaxUploadSize <= 0 {
		return fmt.Errorf("invalid http max upload size %d", c.HTTP.MaxUploadSize)
	}
	return nil
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// SinkAuthEnabled returns true if both sink username and password are set.
func (c *Config) SinkAuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

func (c *Config) applyDefaults() {
	c.Transport.Provider = "smtp"
	c.SMTP.Host = "smtp.hostinger.com"
	c.SMTP.Port = 465
	c.SMTP.Security = "ssl"
	c.SMTP.Timeout = 30 * time.Second
	c.HTTP.Listen = ":8000"
	c.HTTP.MaxUploadSize = defaultMaxUploadSize
	c.Sink.Listen = "127.0.0.1:2525"
	c.Sink.Hostname = "localhost"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment values. Only
// non-empty values override; unparsable numbers are ignored.
func (c *Config) applyEnvVars(getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if b, err := strconv.ParseBool(getenv(key)); err == nil {
			*dst = b
		}
	}

	if v := getenv("PROVIDER"); v != "" {
		c.Transport.Provider = strings.ToLower(v)
	}

	setString("SENDER_EMAIL", &c.Sender.Email)
	setString("SENDER_PASSWORD", &c.Sender.Password)

	setString("SMTP_HOST", &c.SMTP.Host)
	if v := getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := getenv("SMTP_SECURITY"); v != "" {
		c.SMTP.Security = strings.ToLower(v)
	}
	setBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify)
	if v := getenv("SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.Timeout = d
		}
	}
	setString("SMTP_LOCAL_NAME", &c.SMTP.LocalName)

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	setString("SES_ENDPOINT", &c.SES.Endpoint)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	setBool("GRAPH_SAVE_TO_SENT_ITEMS", &c.Graph.SaveToSentItems)

	setString("HTTP_LISTEN", &c.HTTP.Listen)
	if v := getenv("HTTP_MAX_UPLOAD_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.HTTP.MaxUploadSize = size
		}
	}

	setString("SINK_LISTEN", &c.Sink.Listen)
	setString("SINK_HOSTNAME", &c.Sink.Hostname)
	setString("SINK_USERNAME", &c.Sink.Username)
	setString("SINK_PASSWORD", &c.Sink.Password)
	setString("SINK_CERT_FILE", &c.Sink.CertFile)
	setString("SINK_KEY_FILE", &c.Sink.KeyFile)
	setBool("SINK_IMPLICIT_TLS", &c.Sink.ImplicitTLS)
	if v := getenv("SINK_REJECT_RECIPIENTS"); v != "" {
		c.Sink.RejectRecipients = splitList(v)
	}

	setString("TEMPLATE_SUBJECT", &c.Templates.Subject)
	setString("TEMPLATE_BODY", &c.Templates.Body)

	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
