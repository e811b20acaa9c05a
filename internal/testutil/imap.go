package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an IMAP server over the go-imap in-memory backend.
// The backend has one user, "username" / "password", whose INBOX starts with a single
// seeded message (UID 6); ClearINBOX removes it.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
}

// StartTestIMAPServer starts a server on a random local port. The caller must Close it.
func StartTestIMAPServer() (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	// Serve returns once Close runs; its error carries no information then.
	go func() {
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}, nil
}

// NewTestIMAPServer starts a server on a random local port and stops it when the test finishes.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := StartTestIMAPServer()
	if err != nil {
		t.Fatalf("Failed to start test IMAP server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Close stops the server.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

// Username returns the login of the in-memory user.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the password of the in-memory user.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// HostPort splits Address for account records.
func (s *TestIMAPServer) HostPort(t *testing.T) (string, int) {
	t.Helper()
	return splitHostPort(t, s.Address)
}

// Connect opens a logged-in client with INBOX selected.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := s.dial()
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	return client, func() { _ = client.Logout() }
}

func (s *TestIMAPServer) dial() (*imapclient.Client, error) {
	client, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, err
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	if _, err := client.Select("INBOX", false); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return client, nil
}

// ClearINBOX expunges every message in INBOX, including the seeded one.
func (s *TestIMAPServer) ClearINBOX(t *testing.T) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, 0)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := client.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages deleted: %v", err)
	}
	if err := client.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge: %v", err)
	}
}

// AppendRaw appends an RFC 822 message to INBOX and returns its UID.
// Bare LF line endings are converted to CRLF.
func (s *TestIMAPServer) AppendRaw(t *testing.T, raw string) uint32 {
	t.Helper()

	uid, err := s.Append(raw)
	if err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	return uid
}

// Append is AppendRaw for callers without a *testing.T.
func (s *TestIMAPServer) Append(raw string) (uint32, error) {
	client, err := s.dial()
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Logout() }()

	raw = strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	if err := client.Append("INBOX", nil, time.Now(), strings.NewReader(raw)); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	uids, err := client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return 0, fmt.Errorf("failed to search INBOX: %w", err)
	}

	var highest uint32
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}
	return highest, nil
}

func splitHostPort(t *testing.T, address string) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		t.Fatalf("Failed to split %q: %v", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse port %q: %v", portStr, err)
	}
	return host, port
}
