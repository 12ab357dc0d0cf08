// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider"
)

// ErrSendingDisabled is returned by Open when the account cannot send.
var ErrSendingDisabled = errors.New("SES sending is disabled for this account")

// Config holds the AWS settings for the SES provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the SES endpoint, e.g. for a local emulator.
	Endpoint string
}

// API is the subset of the SES v2 client used by the provider.
type API interface {
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API. The sender credentials
// select the From identity; AWS credentials come from Config or the
// default chain.
type Provider struct {
	client API
}

// New creates a Provider from AWS configuration. SDK retries are
// disabled so each message is attempted exactly once.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Provider{client: client}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client API) *Provider {
	return &Provider{client: client}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// Open checks that the AWS account can send before any message is
// attempted.
func (p *Provider) Open(ctx context.Context, creds provider.Credentials) (provider.Session, error) {
	if creds.Username == "" {
		return nil, errors.New("sender address is required")
	}

	out, err := p.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, fmt.Errorf("SES account check failed: %w", err)
	}
	if !out.SendingEnabled {
		return nil, ErrSendingDisabled
	}

	return &session{client: p.client, sender: creds.Username}, nil
}

type session struct {
	mu     sync.Mutex
	client API
	sender string
	closed bool
}

// Send delivers one message. Messages with attachments are sent as raw
// MIME, the rest use the simple content format.
func (s *session) Send(ctx context.Context, msg *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	if len(msg.To) == 0 {
		return email.ErrNoRecipient
	}

	input, err := buildInput(s.sender, msg)
	if err != nil {
		return err
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return provider.ErrSessionClosed
	}
	s.closed = true
	return nil
}

func buildInput(sender string, msg *email.Email) (*sesv2.SendEmailInput, error) {
	if len(msg.Attachments) > 0 {
		withSender := *msg
		withSender.From = sender
		raw, err := withSender.Raw()
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		return &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(sender),
			Destination:      &types.Destination{ToAddresses: msg.To},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}, nil
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.TextBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}, nil
}
