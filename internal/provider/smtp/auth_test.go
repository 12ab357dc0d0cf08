package smtp

import (
	gosmtp "net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/contact-mailer/internal/provider"
)

func TestChooseAuth(t *testing.T) {
	t.Parallel()

	c := provider.Credentials{Username: "u", Password: "p"}

	a, err := chooseAuth("LOGIN PLAIN", c, "smtp.example.com")
	require.NoError(t, err)
	proto, _, err := a.Start(&gosmtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", proto)

	a, err = chooseAuth("login", c, "smtp.example.com")
	require.NoError(t, err)
	assert.IsType(t, &loginAuth{}, a)

	a, err = chooseAuth("CRAM-MD5", c, "smtp.example.com")
	require.NoError(t, err)
	proto, _, err = a.Start(&gosmtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "CRAM-MD5", proto)

	_, err = chooseAuth("XOAUTH2", c, "smtp.example.com")
	assert.Error(t, err)
}

func TestLoginAuth(t *testing.T) {
	t.Parallel()

	a := &loginAuth{username: "user", password: "secret", host: "smtp.example.com"}

	_, _, err := a.Start(&gosmtp.ServerInfo{Name: "smtp.example.com"})
	assert.EqualError(t, err, "unencrypted connection")

	_, _, err = a.Start(&gosmtp.ServerInfo{Name: "other.example.com", TLS: true})
	assert.EqualError(t, err, "wrong host name")

	proto, resp, err := a.Start(&gosmtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "LOGIN", proto)
	assert.Nil(t, resp)

	got, err := a.Next([]byte("Username:"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("user"), got)

	got, err = a.Next([]byte("Password:"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	_, err = a.Next([]byte("Token:"), true)
	assert.Error(t, err)

	got, err = a.Next(nil, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoginAuth_Localhost(t *testing.T) {
	t.Parallel()

	a := &loginAuth{username: "user", password: "secret", host: "127.0.0.1"}
	_, _, err := a.Start(&gosmtp.ServerInfo{Name: "127.0.0.1"})
	assert.NoError(t, err)
}
