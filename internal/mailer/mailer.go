// Package mailer sends transactional email through Resend.
package mailer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/resend/resend-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Resend delivers mail through the Resend API.
type Resend struct {
	Client *resend.Client
	From   string
}

// NewResend constructs a Resend-backed sender whose outbound calls are traced.
func NewResend(apiKey, from string) *Resend {
	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Resend{Client: resend.NewCustomClient(httpClient, apiKey), From: from}
}

// Send implements Sender.
func (r *Resend) Send(ctx context.Context, msg Message) error {
	if r == nil || r.Client == nil {
		return errors.New("mailer: resend client not configured")
	}
	_, err := r.Client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	return err
}

// Nop implements Sender without performing any action.
type Nop struct{}

// Send implements Sender.
func (Nop) Send(context.Context, Message) error { return nil }

// Memory records messages for tests.
type Memory struct {
	mu     sync.Mutex
	Outbox []Message
}

// Send records the message.
func (m *Memory) Send(_ context.Context, msg Message) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outbox = append(m.Outbox, msg)
	return nil
}

// Sent returns a copy of the captured messages.
func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.Outbox))
	copy(out, m.Outbox)
	return out
}
