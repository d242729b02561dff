// Package provider defines the interface for outbound mail transports.
package provider

import (
	"context"

	"github.com/shineum/mailgate/internal/email"
)

// Provider is the interface that mail transports must implement.
// Each provider hands a composed message to the actual relay
// (SMTP server, AWS SES, stdout).
type Provider interface {
	// Send transmits the message in a single attempt and returns the
	// transport's message identifier. The identifier is opaque to callers.
	Send(ctx context.Context, msg *email.Email) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
