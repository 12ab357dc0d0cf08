package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider"
)

var senderCreds = provider.Credentials{Username: "sender@example.com"}

// fakeGraph serves both the token and the sendMail endpoints.
type fakeGraph struct {
	server      *httptest.Server
	tokenCalls  atomic.Int32
	sendCalls   atomic.Int32
	tokenStatus int
	sendStatus  func(n int32) (int, string)
	lastBody    atomic.Value
	lastPath    atomic.Value
	lastAuth    atomic.Value
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	f := &fakeGraph{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.tokenStatus)
			_, _ = io.WriteString(w, `{"error":"invalid_client","error_description":"bad secret"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1.0/users/", func(w http.ResponseWriter, r *http.Request) {
		n := f.sendCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(body)
		f.lastPath.Store(r.URL.EscapedPath())
		f.lastAuth.Store(r.Header.Get("Authorization"))

		status, payload := http.StatusAccepted, ""
		if f.sendStatus != nil {
			status, payload = f.sendStatus(n)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGraph) provider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     f.server.URL + "/token",
		GraphURL:     f.server.URL + "/v1.0/",
	})
	require.NoError(t, err)
	return p
}

func TestBuildSendMailRequest(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		MessageID: "<id@contact-mailer>",
		To:        []string{"alice@example.com"},
		Subject:   "Test Subject",
		TextBody:  "Hello, World!",
		Attachments: []email.Attachment{
			{Filename: "report.pdf", Content: []byte("hello")},
		},
	}

	req := buildSendMailRequest(msg, true)

	assert.Equal(t, "Test Subject", req.Message.Subject)
	assert.Equal(t, messageBody{ContentType: "text", Content: "Hello, World!"}, req.Message.Body)
	require.Len(t, req.Message.ToRecipients, 1)
	assert.Equal(t, "alice@example.com", req.Message.ToRecipients[0].EmailAddress.Address)
	assert.Equal(t, "<id@contact-mailer>", req.Message.InternetMessageID)
	assert.True(t, req.SaveToSentItems)

	require.Len(t, req.Message.Attachments, 1)
	att := req.Message.Attachments[0]
	assert.Equal(t, "#microsoft.graph.fileAttachment", att.ODataType)
	assert.Equal(t, "report.pdf", att.Name)
	assert.Equal(t, email.DefaultContentType, att.ContentType)
	assert.Equal(t, "aGVsbG8=", att.ContentBytes)
}

func TestBuildSendMailRequest_JSONShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(buildSendMailRequest(&email.Email{
		To:       []string{"a@example.com"},
		Subject:  "S",
		TextBody: "B",
	}, false))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"message": {
			"subject": "S",
			"body": {"contentType": "text", "content": "B"},
			"toRecipients": [{"emailAddress": {"address": "a@example.com"}}]
		},
		"saveToSentItems": false
	}`, string(data))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ClientID: "c"})
	assert.Error(t, err)

	_, err = New(Config{ClientID: "c", ClientSecret: "s"})
	assert.Error(t, err, "tenant id is required without a token URL")

	p, err := New(Config{TenantID: "tenant", ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", p.oauth.TokenURL)
	assert.Equal(t, defaultGraphURL, p.graphURL)
	assert.Equal(t, "msgraph", p.Name())
}

func TestSession_Send(t *testing.T) {
	t.Parallel()

	f := newFakeGraph(t)
	sess, err := f.provider(t).Open(context.Background(), senderCreds)
	require.NoError(t, err)

	require.NoError(t, sess.Send(context.Background(), &email.Email{
		To:       []string{"jane@example.com"},
		Subject:  "Hi Jane",
		TextBody: "Hello",
	}))
	require.NoError(t, sess.Send(context.Background(), &email.Email{To: []string{"john@example.com"}}))
	require.NoError(t, sess.Close())

	assert.Equal(t, int32(1), f.tokenCalls.Load(), "token is reused for the batch")
	assert.Equal(t, int32(2), f.sendCalls.Load())
	assert.Equal(t, "/v1.0/users/sender@example.com/sendMail", f.lastPath.Load())
	assert.Equal(t, "Bearer test-token", f.lastAuth.Load())

	var body sendMailRequest
	require.NoError(t, json.Unmarshal(f.lastBody.Load().([]byte), &body))
	assert.Equal(t, "john@example.com", body.Message.ToRecipients[0].EmailAddress.Address)
}

func TestOpen_TokenFailure(t *testing.T) {
	t.Parallel()

	f := newFakeGraph(t)
	f.tokenStatus = http.StatusUnauthorized

	_, err := f.provider(t).Open(context.Background(), senderCreds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get access token")
	assert.Zero(t, f.sendCalls.Load())
}

func TestSession_APIErrorIsPerMessage(t *testing.T) {
	t.Parallel()

	f := newFakeGraph(t)
	f.sendStatus = func(n int32) (int, string) {
		if n == 1 {
			return http.StatusBadRequest, `{"error":{"code":"ErrorInvalidRecipients","message":"bad recipient"}}`
		}
		return http.StatusAccepted, ""
	}

	sess, err := f.provider(t).Open(context.Background(), senderCreds)
	require.NoError(t, err)
	defer sess.Close()

	err = sess.Send(context.Background(), &email.Email{To: []string{"x@example.com"}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "ErrorInvalidRecipients", apiErr.Code)
	assert.Equal(t, "Graph API error (HTTP 400, ErrorInvalidRecipients): bad recipient", err.Error())

	require.NoError(t, sess.Send(context.Background(), &email.Email{To: []string{"y@example.com"}}))
	assert.Equal(t, int32(2), f.sendCalls.Load(), "no retries")
}

func TestSession_PlainTextErrorBody(t *testing.T) {
	t.Parallel()

	f := newFakeGraph(t)
	f.sendStatus = func(int32) (int, string) { return http.StatusServiceUnavailable, "upstream down\n" }

	sess, err := f.provider(t).Open(context.Background(), senderCreds)
	require.NoError(t, err)

	err = sess.Send(context.Background(), &email.Email{To: []string{"x@example.com"}})
	assert.EqualError(t, err, "Graph API error (HTTP 503): upstream down")
}

func TestSession_ClosedAndNoRecipient(t *testing.T) {
	t.Parallel()

	f := newFakeGraph(t)
	sess, err := f.provider(t).Open(context.Background(), senderCreds)
	require.NoError(t, err)

	assert.ErrorIs(t, sess.Send(context.Background(), &email.Email{}), email.ErrNoRecipient)
	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Close(), provider.ErrSessionClosed)
	assert.ErrorIs(t, sess.Send(context.Background(), &email.Email{To: []string{"a@example.com"}}), provider.ErrSessionClosed)
	assert.Zero(t, f.sendCalls.Load())
}

func TestOpen_RequiresSender(t *testing.T) {
	t.Parallel()

	f := newFakeGraph(t)
	_, err := f.provider(t).Open(context.Background(), provider.Credentials{})
	assert.Error(t, err)
	assert.Zero(t, f.tokenCalls.Load())
}
