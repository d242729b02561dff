// Package smtptest provides an in-process SMTP relay for exercising mail
// transports end to end, in the spirit of net/http/httptest.
package smtptest

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"sync"
)

// Options configures a test relay.
type Options struct {
	// Username and Password enable AUTH PLAIN/LOGIN when both are set.
	Username string
	Password string

	// TLSConfig enables STARTTLS, or implicit TLS when ImplicitTLS is set.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// RejectRecipient, if set, makes RCPT TO fail with 550 for matching addresses.
	RejectRecipient func(addr string) bool
}

// Message is one accepted mail transaction.
type Message struct {
	// Envelope sender and recipients as given in MAIL FROM / RCPT TO.
	From string
	To   []string

	// Raw is the DATA payload with dot-stuffing removed.
	Raw []byte

	// TLS reports whether the transaction ran over an encrypted connection.
	TLS bool
}

// Server is a listening test relay. Each accepted connection is served
// by its own goroutine.
type Server struct {
	opts     Options
	auth     *Authenticator
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	messages []Message

	wg sync.WaitGroup
}

// NewServer starts a relay on a random loopback port.
func NewServer(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if opts.ImplicitTLS && opts.TLSConfig != nil {
		ln = tls.NewListener(ln, opts.TLSConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		auth:     NewAuthenticator(opts.Username, opts.Password),
		listener: ln,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Debug("smtptest accept error", "error", err)
				return
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			starttls := s.opts.TLSConfig
			if s.opts.ImplicitTLS {
				starttls = nil
			}
			sess := newSession(conn, s.auth, starttls, s.opts.ImplicitTLS, s.opts.RejectRecipient, s.record)
			sess.handle(s.ctx)
		}()
	}
}

func (s *Server) record(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Messages returns a copy of every accepted message, in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Addr returns the host:port the relay listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening IP address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Close stops accepting connections and waits for open sessions to end.
func (s *Server) Close() {
	s.cancel()
	s.listener.Close()
	s.wg.Wait()
}
