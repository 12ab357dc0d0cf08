package smtp

import (
	"errors"
	"fmt"
	gosmtp "net/smtp"
	"strings"

	"github.com/shineum/contact-mailer/internal/provider"
)

// chooseAuth picks a mechanism from the server's AUTH list, preferring
// PLAIN, then LOGIN, then CRAM-MD5.
func chooseAuth(advertised string, creds provider.Credentials, host string) (gosmtp.Auth, error) {
	supported := make(map[string]bool)
	for _, m := range strings.Fields(strings.ToUpper(advertised)) {
		supported[m] = true
	}

	switch {
	case supported["PLAIN"]:
		return gosmtp.PlainAuth("", creds.Username, creds.Password, host), nil
	case supported["LOGIN"]:
		return &loginAuth{username: creds.Username, password: creds.Password, host: host}, nil
	case supported["CRAM-MD5"]:
		return gosmtp.CRAMMD5Auth(creds.Username, creds.Password), nil
	default:
		return nil, fmt.Errorf("no supported AUTH mechanism in %q", advertised)
	}
}

// loginAuth implements the LOGIN mechanism, which net/smtp lacks.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *gosmtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSuffix(string(fromServer), ":")) {
	case "username":
		return []byte(a.username), nil
	case "password":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
	}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
