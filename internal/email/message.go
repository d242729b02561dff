// Package email defines the outbound message model shared by the mailer and transports.
package email

import (
	"fmt"
	"os"
)

// Email represents a composed message ready to be handed to a transport.
type Email struct {
	From     string
	To       []string
	Subject  string
	HtmlBody string

	// TextBody is an optional plain-text alternative. The mailer never sets
	// it; transports send it when present and smtptest fills it when
	// decoding a relayed message.
	TextBody string

	Attachments []Attachment
	MessageID   string

	// RawHeaders holds every header of a decoded message. Only
	// smtptest.Parse sets it; transports ignore it.
	RawHeaders map[string][]string
}

// Attachment references a file attached to an email message.
// Stored attachments carry a Path; attachments parsed from the wire carry Content.
type Attachment struct {
	Filename    string
	ContentType string
	Path        string
	Size        int64
	Content     []byte
}

// Bytes returns the attachment content, reading it from Path when the
// content is not held in memory.
func (a Attachment) Bytes() ([]byte, error) {
	if a.Content != nil || a.Path == "" {
		return a.Content, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", a.Filename, err)
	}
	return data, nil
}
