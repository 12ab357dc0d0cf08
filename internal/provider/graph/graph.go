// Package graph implements a Provider that sends emails via the Microsoft
// Graph sendMail API with OAuth2 client credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	defaultScope    = "https://graph.microsoft.com/.default"
	defaultTimeout  = 30 * time.Second
)

// Config holds the Azure AD application settings.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// SaveToSentItems keeps a copy in the sender's Sent Items folder.
	SaveToSentItems bool

	// TokenURL and GraphURL override the Microsoft endpoints.
	TokenURL string
	GraphURL string
	Timeout  time.Duration
}

// Provider opens Graph sessions. The sender credentials select the mailbox
// that sends; the application credentials authorize the call.
type Provider struct {
	oauth      clientcredentials.Config
	graphURL   string
	saveToSent bool
	httpClient *http.Client
}

// New creates a Graph Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("graph client id and secret are required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.TenantID == "" {
			return nil, errors.New("graph tenant id is required")
		}
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	}
	graphURL := cfg.GraphURL
	if graphURL == "" {
		graphURL = defaultGraphURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Provider{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{defaultScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		graphURL:   strings.TrimRight(graphURL, "/"),
		saveToSent: cfg.SaveToSentItems,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}

// Open acquires an access token; a token failure means no message is
// attempted.
func (p *Provider) Open(ctx context.Context, creds provider.Credentials) (provider.Session, error) {
	if creds.Username == "" {
		return nil, errors.New("sender address is required")
	}

	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, p.httpClient)
	ts := p.oauth.TokenSource(tokenCtx)

	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	client := oauth2.NewClient(tokenCtx, oauth2.ReuseTokenSource(tok, ts))
	client.Timeout = p.httpClient.Timeout

	return &session{
		client:     client,
		endpoint:   fmt.Sprintf("%s/users/%s/sendMail", p.graphURL, url.PathEscape(creds.Username)),
		saveToSent: p.saveToSent,
	}, nil
}

type session struct {
	mu         sync.Mutex
	client     *http.Client
	endpoint   string
	saveToSent bool
	closed     bool
}

// Send posts one message. HTTP 202 is success.
func (s *session) Send(ctx context.Context, msg *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	if len(msg.To) == 0 {
		return email.ErrNoRecipient
	}

	body, err := json.Marshal(buildSendMailRequest(msg, s.saveToSent))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}
	return newAPIError(resp)
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

// APIError is a non-success response from the Graph API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	var parsed graphErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
	}
	return apiErr
}
