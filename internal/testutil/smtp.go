package testutil

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one message accepted by the test SMTP server.
type ReceivedMessage struct {
	From     string
	To       []string
	Data     []byte
	Username string
}

// MemoryBackend is an in-memory SMTP backend that accepts any PLAIN credentials.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []*ReceivedMessage
}

// NewSession creates a new SMTP session.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// Messages returns a copy of the received messages.
func (b *MemoryBackend) Messages() []*ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*ReceivedMessage(nil), b.messages...)
}

type memorySession struct {
	backend  *MemoryBackend
	username string
	from     string
	to       []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		s.username = username
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.messages = append(s.backend.messages, &ReceivedMessage{
		From:     s.from,
		To:       s.to,
		Data:     data,
		Username: s.username,
	})

	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// SMTPSecurity selects how the test server secures connections.
type SMTPSecurity int

const (
	// SMTPPlainOnly serves cleartext and does not advertise STARTTLS.
	SMTPPlainOnly SMTPSecurity = iota
	// SMTPStartTLS serves cleartext and advertises STARTTLS.
	SMTPStartTLS
	// SMTPImplicitTLS expects a TLS handshake as soon as the client connects.
	SMTPImplicitTLS
)

// TestSMTPServer is a go-smtp server over MemoryBackend.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *MemoryBackend
	Cert    *TestCertificate
}

// StartTestSMTPServer starts a server on a random local port. The caller must Close it.
// For the TLS variants, cert must be non-nil.
func StartTestSMTPServer(security SMTPSecurity, cert *TestCertificate) (*TestSMTPServer, error) {
	be := &MemoryBackend{}

	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second

	var listener net.Listener
	var err error
	switch security {
	case SMTPImplicitTLS:
		listener, err = tls.Listen("tcp", "127.0.0.1:0", cert.ServerConfig())
	case SMTPStartTLS:
		s.TLSConfig = cert.ServerConfig()
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	default:
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	// Serve returns once Close runs; its error carries no information then.
	go func() {
		_ = s.Serve(listener)
	}()

	return &TestSMTPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		Cert:    cert,
	}, nil
}

// NewTestSMTPServer starts a server on a random local port and stops it when the test finishes.
// For the TLS variants, cert must be non-nil.
func NewTestSMTPServer(t *testing.T, security SMTPSecurity, cert *TestCertificate) *TestSMTPServer {
	t.Helper()

	s, err := StartTestSMTPServer(security, cert)
	if err != nil {
		t.Fatalf("Failed to start test SMTP server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Close stops the server.
func (s *TestSMTPServer) Close() {
	_ = s.Server.Close()
}

// HostPort splits Address for account records.
func (s *TestSMTPServer) HostPort(t *testing.T) (string, int) {
	t.Helper()
	return splitHostPort(t, s.Address)
}

// Messages returns every message the server accepted.
func (s *TestSMTPServer) Messages() []*ReceivedMessage {
	return s.Backend.Messages()
}
