package identity

import (
	"context"
	"sync"
)

// Message is an outgoing e-mail
type Message struct {
	To      string
	Subject string
	Body    string
	Link    string
}

// Mailer delivers account e-mails
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the logger instead of sending them
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("mail", "to", msg.To, "subject", msg.Subject, "link", msg.Link)
	return nil
}

// MemoryMailer keeps every message it was asked to send
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Message
}

func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recent message
func (m *MemoryMailer) Last() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Message{}, false
	}
	return m.sent[len(m.sent)-1], true
}
