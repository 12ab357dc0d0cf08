package sink

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/shineum/contact-mailer/internal/email"
)

// Handler receives every message accepted by the sink.
type Handler interface {
	Deliver(ctx context.Context, msg *email.Email) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *email.Email) error

// Deliver calls f.
func (f HandlerFunc) Deliver(ctx context.Context, msg *email.Email) error {
	return f(ctx, msg)
}

// Mailbox is an in-memory Handler.
type Mailbox struct {
	mu       sync.Mutex
	messages []*email.Email
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Deliver stores msg.
func (m *Mailbox) Deliver(_ context.Context, msg *email.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a snapshot of the stored messages in arrival order.
func (m *Mailbox) Messages() []*email.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*email.Email, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of stored messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Recipients returns every envelope recipient seen, in arrival order.
func (m *Mailbox) Recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		out = append(out, msg.To...)
	}
	return out
}

// rejecter matches recipients against shell-style patterns such as
// "*@blocked.example".
type rejecter []string

func (r rejecter) match(addr string) bool {
	addr = strings.ToLower(addr)
	for _, pattern := range r {
		if ok, err := path.Match(strings.ToLower(pattern), addr); err == nil && ok {
			return true
		}
	}
	return false
}
