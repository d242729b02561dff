// Package mailer composes outbound messages and hands them to a transport.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/provider"
)

// Config holds composition settings.
type Config struct {
	// From is used when a request does not name a sender.
	From string

	// PermanentRecipient is appended after the requested recipient on
	// every message. It is not deduplicated against the requested one.
	PermanentRecipient string
}

// Request is one message to compose and send.
type Request struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []attachment.Stored
}

// DeliveryError wraps a transport failure.
type DeliveryError struct {
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Mailer builds messages and submits them through a single provider.
type Mailer struct {
	provider provider.Provider
	cfg      Config
}

// New creates a Mailer.
func New(p provider.Provider, cfg Config) *Mailer {
	return &Mailer{provider: p, cfg: cfg}
}

// Recipients returns the envelope recipients for a message addressed to
// to: the requested address first, the permanent recipient second.
func (m *Mailer) Recipients(to string) []string {
	recipients := []string{to}
	if m.cfg.PermanentRecipient != "" {
		recipients = append(recipients, m.cfg.PermanentRecipient)
	}
	return recipients
}

// Compose builds the outbound message for req.
func (m *Mailer) Compose(req Request) *email.Email {
	from := req.From
	if from == "" {
		from = m.cfg.From
	}

	attachments := make([]email.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, email.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Path:        a.Path,
			Size:        a.Size,
		})
	}

	return &email.Email{
		From:        from,
		To:          m.Recipients(req.To),
		Subject:     req.Subject,
		HtmlBody:    req.HTML,
		Attachments: attachments,
	}
}

// Send composes req and transmits it once. The returned identifier is
// whatever the transport reported. Transport failures are returned as
// *DeliveryError; there is no retry.
func (m *Mailer) Send(ctx context.Context, req Request) (string, error) {
	msg := m.Compose(req)

	id, err := m.provider.Send(ctx, msg)
	if err != nil {
		return "", &DeliveryError{Provider: m.provider.Name(), Err: err}
	}

	slog.Info("email sent",
		"provider", m.provider.Name(),
		"message_id", id,
		"recipients", len(msg.To),
		"attachments", len(msg.Attachments),
	)
	return id, nil
}
