// Package smtp implements a Provider that relays messages to an SMTP server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	netsmtp "net/smtp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	jemail "github.com/jordan-wright/email"

	"github.com/shineum/mailgate/internal/email"
)

// Security modes for the relay connection.
const (
	// SecuritySSL dials TLS from the first byte (SMTPS, usually port 465).
	SecuritySSL = "ssl"
	// SecurityStartTLS upgrades a plain connection when the server offers it.
	SecurityStartTLS = "starttls"
	// SecurityNone never negotiates TLS, even when the server offers STARTTLS.
	SecurityNone = "none"
)

// SMTPProviderConfig holds the configuration for creating an SMTPProvider.
type SMTPProviderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Security string

	// TLSConfig overrides the client TLS configuration. ServerName
	// defaults to Host.
	TLSConfig *tls.Config
}

// SMTPProvider sends messages through an SMTP relay. The relay is
// contacted once per message; failures are returned as-is.
type SMTPProvider struct {
	addr     string
	host     string
	security string
	auth     netsmtp.Auth
	tls      *tls.Config
}

// New creates a new SMTPProvider with the given configuration.
func New(cfg SMTPProviderConfig) (*SMTPProvider, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}

	security := strings.ToLower(cfg.Security)
	if security == "" {
		security = SecurityStartTLS
		if cfg.Port == 465 {
			security = SecuritySSL
		}
	}
	switch security {
	case SecuritySSL, SecurityStartTLS, SecurityNone:
	default:
		return nil, fmt.Errorf("unknown smtp security mode %q", cfg.Security)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = cfg.Host
	}

	var auth netsmtp.Auth
	if cfg.Username != "" {
		auth = netsmtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPProvider{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		security: security,
		auth:     auth,
		tls:      tlsConfig,
	}, nil
}

// Send delivers msg to the relay and returns the Message-Id it was sent
// with. The connection is bound to ctx: its deadline becomes the socket
// deadline and cancellation closes the socket, so an abandoned exchange
// never reaches DATA completion.
func (s *SMTPProvider) Send(ctx context.Context, msg *email.Email) (string, error) {
	e, err := s.buildEmail(msg)
	if err != nil {
		return "", err
	}
	messageID := e.Headers.Get("Message-Id")

	if err := s.deliver(ctx, e); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Warn("smtp send abandoned",
				"addr", s.addr,
				"message_id", messageID,
				"error", ctxErr,
			)
			return "", ctxErr
		}
		return "", fmt.Errorf("smtp %s: %w", s.addr, err)
	}
	return messageID, nil
}

// Name returns the provider name.
func (s *SMTPProvider) Name() string {
	return "smtp"
}

// deliver runs one SMTP transaction for e over a connection owned by ctx.
func (s *SMTPProvider) deliver(ctx context.Context, e *jemail.Email) error {
	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", e.From, err)
	}
	var rcpts []string
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, r := range list {
			addr, err := mail.ParseAddress(r)
			if err != nil {
				return fmt.Errorf("invalid recipient %q: %w", r, err)
			}
			rcpts = append(rcpts, addr.Address)
		}
	}
	raw, err := e.Bytes()
	if err != nil {
		return fmt.Errorf("failed to render message: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	netConn := conn
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	defer stop()

	if s.security == SecuritySSL {
		tlsConn := tls.Client(conn, s.tls)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return err
		}
		conn = tlsConn
	}

	c, err := netsmtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.security == SecurityStartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tls); err != nil {
				return err
			}
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, r := range rcpts {
		if err := c.Rcpt(r); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	// The relay has accepted the message; a failed QUIT does not undo that.
	if err := c.Quit(); err != nil {
		slog.Debug("smtp quit failed", "addr", s.addr, "error", err)
	}
	return nil
}

// buildEmail converts msg into a jordan-wright email with a fresh Message-Id.
func (s *SMTPProvider) buildEmail(msg *email.Email) (*jemail.Email, error) {
	e := jemail.NewEmail()
	e.From = msg.From
	e.To = append([]string(nil), msg.To...)
	e.Subject = msg.Subject
	if msg.HtmlBody != "" {
		e.HTML = []byte(msg.HtmlBody)
	}
	if msg.TextBody != "" {
		e.Text = []byte(msg.TextBody)
	}

	id := msg.MessageID
	if id == "" {
		id = newMessageID(msg.From, s.host)
	}
	e.Headers.Set("Message-Id", id)

	for _, att := range msg.Attachments {
		content, err := att.Bytes()
		if err != nil {
			return nil, err
		}
		if _, err := e.Attach(bytes.NewReader(content), att.Filename, att.ContentType); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", att.Filename, err)
		}
	}

	return e, nil
}

// newMessageID returns an RFC 5322 message identifier using the sender's
// domain, or fallback when the sender cannot be parsed.
func newMessageID(from, fallback string) string {
	domain := fallback
	if addr, err := mail.ParseAddress(from); err == nil {
		if at := strings.LastIndexByte(addr.Address, '@'); at >= 0 && at < len(addr.Address)-1 {
			domain = addr.Address[at+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
