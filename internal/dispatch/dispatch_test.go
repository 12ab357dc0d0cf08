package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/contact-mailer/internal/contact"
	"github.com/shineum/contact-mailer/internal/email"
	"github.com/shineum/contact-mailer/internal/provider"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Open(ctx context.Context, creds provider.Credentials) (provider.Session, error) {
	args := m.Called(ctx, creds)
	sess, _ := args.Get(0).(provider.Session)
	return sess, args.Error(1)
}

func (m *mockProvider) Name() string {
	return "mock"
}

type mockSession struct {
	mock.Mock
	sent []*email.Email
}

func (m *mockSession) Send(ctx context.Context, msg *email.Email) error {
	m.sent = append(m.sent, msg)
	return m.Called(ctx, msg).Error(0)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testConfig = EmailConfig{
	SenderEmail:     "sender@example.com",
	SenderPassword:  "app-password",
	SubjectTemplate: "Hi {name}",
	BodyTemplate:    "Dear {name}, as {designation} you may like this.",
}

func newMockDispatcher(sess *mockSession) (*Dispatcher, *mockProvider) {
	p := &mockProvider{}
	p.On("Open", mock.Anything, provider.Credentials{Username: "sender@example.com", Password: "app-password"}).
		Return(sess, nil).Once()
	return New(p, WithLogger(quietLogger())), p
}

func TestDispatch_SendsRenderedMessages(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	d, p := newMockDispatcher(sess)

	contacts := []contact.Contact{
		{Name: "Jane", Email: "jane@example.com", Designation: "CTO"},
		{Name: "John", Email: " john@example.com "},
	}

	rep, err := d.Dispatch(context.Background(), testConfig, contacts, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 2, rep.Success)
	assert.Zero(t, rep.Failed)
	assert.Empty(t, rep.FailedDetails)

	require.Len(t, sess.sent, 2)
	assert.Equal(t, "Hi Jane", sess.sent[0].Subject)
	assert.Equal(t, "Dear Jane, as CTO you may like this.", sess.sent[0].TextBody)
	assert.Equal(t, "sender@example.com", sess.sent[0].From)
	assert.Equal(t, []string{"jane@example.com"}, sess.sent[0].To)
	assert.Equal(t, "Dear John, as  you may like this.", sess.sent[1].TextBody)
	assert.Equal(t, []string{"john@example.com"}, sess.sent[1].To)
	assert.Empty(t, sess.sent[0].Attachments)

	p.AssertExpectations(t)
	sess.AssertExpectations(t)
}

func TestDispatch_MessageIDs(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Return(nil)
	sess.On("Close").Return(nil)

	p := &mockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(sess, nil)
	d := New(p, WithLogger(quietLogger()), WithMessageIDDomain("mailer.test"))

	_, err := d.Dispatch(context.Background(), testConfig, []contact.Contact{
		{Email: "a@example.com"}, {Email: "b@example.com"},
	}, nil)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^<[0-9a-f-]{36}@mailer\.test>$`)
	require.Len(t, sess.sent, 2)
	assert.Regexp(t, pattern, sess.sent[0].MessageID)
	assert.Regexp(t, pattern, sess.sent[1].MessageID)
	assert.NotEqual(t, sess.sent[0].MessageID, sess.sent[1].MessageID)
}

func TestDispatch_InvalidAddressSkipsTransport(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	d, _ := newMockDispatcher(sess)

	contacts := []contact.Contact{
		{Name: "Jane", Email: "jane@example.com"},
		{Name: "Bad", Email: "bad-address"},
		{Name: "Empty"},
		{Name: "John", Email: "john@example.com"},
	}

	rep, err := d.Dispatch(context.Background(), testConfig, contacts, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, 2, rep.Success)
	assert.Equal(t, 2, rep.Failed)
	require.Len(t, rep.FailedDetails, 2)
	assert.Equal(t, "bad-address", rep.FailedDetails[0].Email)
	assert.Equal(t, ErrInvalidAddress.Error(), rep.FailedDetails[0].Error)
	assert.Equal(t, "", rep.FailedDetails[1].Email)
	assert.True(t, rep.Consistent())

	sess.AssertNumberOfCalls(t, "Send", 2)
}

func TestDispatch_SendFailureContinues(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.MatchedBy(func(m *email.Email) bool {
		return m.To[0] == "bounce@example.com"
	})).Return(errors.New("550 No such user"))
	sess.On("Send", mock.Anything, mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	d, _ := newMockDispatcher(sess)

	rep, err := d.Dispatch(context.Background(), testConfig, []contact.Contact{
		{Email: "bounce@example.com"},
		{Email: "ok@example.com"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Success)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, "550 No such user", rep.FailedDetails[0].Error)
	sess.AssertExpectations(t)
}

func TestDispatch_AllFailedStillClosesOnce(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Return(errors.New("451 try later"))
	sess.On("Close").Return(nil).Once()
	d, _ := newMockDispatcher(sess)

	rep, err := d.Dispatch(context.Background(), testConfig, []contact.Contact{
		{Email: "a@example.com"}, {Email: "b@example.com"}, {Email: "c@example.com"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Failed)
	assert.Zero(t, rep.Success)
	sess.AssertNumberOfCalls(t, "Close", 1)
}

func TestDispatch_EmptyBatchClosesSession(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Close").Return(nil).Once()
	d, p := newMockDispatcher(sess)

	rep, err := d.Dispatch(context.Background(), testConfig, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Total)
	assert.NotNil(t, rep.FailedDetails)
	assert.True(t, rep.Consistent())
	p.AssertExpectations(t)
	sess.AssertExpectations(t)
	sess.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDispatch_OpenFailureIsTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("auth: 535 Authentication failed")
	p := &mockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(nil, cause)
	d := New(p, WithLogger(quietLogger()))

	rep, err := d.Dispatch(context.Background(), testConfig, []contact.Contact{{Email: "a@example.com"}}, nil)
	assert.Nil(t, rep)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "mock", terr.Provider)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "mock transport: auth: 535 Authentication failed", err.Error())
}

func TestDispatch_CloseErrorDoesNotChangeReport(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Return(nil)
	sess.On("Close").Return(errors.New("connection reset")).Once()
	d, _ := newMockDispatcher(sess)

	rep, err := d.Dispatch(context.Background(), testConfig, []contact.Contact{{Email: "a@example.com"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Success)
	assert.Zero(t, rep.Failed)
}

func TestDispatch_CancellationRecordsRemaining(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil).Once()
	sess.On("Close").Return(nil).Once()
	d, _ := newMockDispatcher(sess)

	rep, err := d.Dispatch(ctx, testConfig, []contact.Contact{
		{Email: "a@example.com"}, {Email: "b@example.com"}, {Email: "c@example.com"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Success)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, "b@example.com", rep.FailedDetails[0].Email)
	assert.Equal(t, context.Canceled.Error(), rep.FailedDetails[0].Error)
	assert.True(t, rep.Consistent())
	sess.AssertExpectations(t)
}

func TestDispatch_AttachmentSharedAcrossRecipients(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("Send", mock.Anything, mock.Anything).Return(nil)
	sess.On("Close").Return(nil)
	d, _ := newMockDispatcher(sess)

	att := email.NewAttachment("brochure.pdf", []byte("%PDF-1.4"))
	_, err := d.Dispatch(context.Background(), testConfig, []contact.Contact{
		{Email: "a@example.com"}, {Email: "b@example.com"},
	}, att)
	require.NoError(t, err)

	require.Len(t, sess.sent, 2)
	first, second := sess.sent[0].Attachments, sess.sent[1].Attachments
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "brochure.pdf", first[0].Filename)
	assert.Same(t, &att.Content[0], &first[0].Content[0])
	assert.Same(t, &att.Content[0], &second[0].Content[0])
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "sending", StateSending.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestEmailConfig_JSONAndLogging(t *testing.T) {
	t.Parallel()

	var cfg EmailConfig
	require.NoError(t, json.Unmarshal([]byte(`{
		"sender_email": "me@example.com",
		"sender_password": "hunter2",
		"subject_template": "Hi {name}",
		"body_template": "Body"
	}`), &cfg))
	assert.Equal(t, "me@example.com", cfg.SenderEmail)
	assert.Equal(t, "hunter2", cfg.SenderPassword)
	assert.Equal(t, "Hi {name}", cfg.Template().Subject)

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("x", "config", cfg)
	assert.Contains(t, buf.String(), "me@example.com")
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestRecipientError(t *testing.T) {
	t.Parallel()

	cause := errors.New("550 rejected")
	err := error(&RecipientError{Email: "a@example.com", Err: cause})
	assert.Equal(t, "550 rejected", err.Error())
	assert.ErrorIs(t, err, cause)
}
