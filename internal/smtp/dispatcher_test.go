package smtp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/db"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/models"
	"github.com/vdavid/mailchat/internal/testutil"
)

type sendFixture struct {
	dispatcher *Dispatcher
	store      *db.Store
	cert       *testutil.TestCertificate
}

func newSendFixture(t *testing.T) *sendFixture {
	t.Helper()

	store := db.NewStore(testutil.NewTestDB(t), testutil.GetTestSealer(t))
	cert := testutil.NewTestCertificate(t)

	dispatcher := NewDispatcher(store, 5*time.Second)
	dispatcher.TLSConfig = cert.ClientConfig()

	return &sendFixture{dispatcher: dispatcher, store: store, cert: cert}
}

// account stores an account whose transport points at host:port.
func (f *sendFixture) account(t *testing.T, email, host string, port int, mode models.SecurityMode) *models.Account {
	t.Helper()
	account := &models.Account{
		Name:         "Me",
		Email:        email,
		IMAPHost:     "localhost",
		IMAPPort:     993,
		IMAPPassword: "imap-secret",
		SMTPHost:     host,
		SMTPPort:     port,
		SMTPPassword: "smtp-secret",
		UseTLS:       true,
		SMTPSecurity: mode,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

func (f *sendFixture) accountFor(t *testing.T, email string, server *testutil.TestSMTPServer, mode models.SecurityMode) *models.Account {
	t.Helper()
	host, port := server.HostPort(t)
	return f.account(t, email, host, port, mode)
}

func closedPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, listener.Close())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestSendMessage(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	server := testutil.NewTestSMTPServer(t, testutil.SMTPPlainOnly, nil)
	account := f.accountFor(t, "me@example.org", server, models.SecurityPlain)

	sent, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{
		To:        " Alice@Example.com ",
		Body:      "Hello Alice",
		InReplyTo: "<orig-1@example.com>",
	})
	require.NoError(t, err)

	t.Run("returns the stored record", func(t *testing.T) {
		assert.NotZero(t, sent.ID)
		assert.Equal(t, models.DirectionOutbound, sent.Direction)
		assert.Equal(t, models.DeliverySent, sent.DeliveryStatus)
		assert.True(t, sent.IsRead)
		assert.Equal(t, "alice@example.com", sent.ContactEmail)
		assert.Equal(t, "Hello Alice", sent.Body)
		assert.Equal(t, "<orig-1@example.com>", sent.InReplyTo)
		assert.Equal(t, time.UTC, sent.SentAt.Location())
		assert.NotEmpty(t, sent.ExternalMessageID)

		stored, err := f.store.GetMessageByExternalID(ctx, account.ID, sent.ExternalMessageID)
		require.NoError(t, err)
		assert.Equal(t, sent.ID, stored.ID)
		assert.Equal(t, models.DirectionOutbound, stored.Direction)
		assert.True(t, stored.IsRead)
	})

	t.Run("the server received the composed message", func(t *testing.T) {
		received := server.Messages()
		require.Len(t, received, 1)
		assert.Equal(t, "me@example.org", received[0].From)
		assert.Equal(t, []string{"alice@example.com"}, received[0].To)
		assert.Equal(t, "me@example.org", received[0].Username)

		env, err := enmime.ReadEnvelope(bytes.NewReader(received[0].Data))
		require.NoError(t, err)
		assert.Equal(t, sent.ExternalMessageID, env.GetHeader("Message-Id"))
		assert.Equal(t, "<orig-1@example.com>", env.GetHeader("In-Reply-To"))
	})

	t.Run("the recipient becomes a contact", func(t *testing.T) {
		contacts, err := f.store.ListContacts(ctx, account.ID)
		require.NoError(t, err)
		require.Len(t, contacts, 1)
		assert.Equal(t, "alice@example.com", contacts[0].Email)
	})
}

func TestSendMessageWithAttachments(t *testing.T) {
	f := newSendFixture(t)
	server := testutil.NewTestSMTPServer(t, testutil.SMTPPlainOnly, nil)
	account := f.accountFor(t, "me@example.org", server, models.SecurityPlain)

	sent, err := f.dispatcher.SendMessage(context.Background(), account.ID, Outgoing{
		To:     "alice@example.com",
		Body:   "<p>See <i>attached</i></p>",
		IsHTML: true,
		Attachments: []models.OutboundAttachment{
			{Name: "notes.txt", ContentType: "text/plain", Data: "aGVsbG8="},
			{Name: "blank.txt", Data: ""},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "See attached", sent.Body)
	assert.Equal(t, "<p>See <i>attached</i></p>", sent.BodyHTML)
	assert.Equal(t, []models.AttachmentMeta{{Name: "notes.txt", ContentType: "text/plain", Size: 5}}, sent.Attachments)

	stored, err := f.store.GetMessage(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, sent.Attachments, stored.Attachments)
}

func TestSendMessageSecurityNegotiation(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()

	t.Run("forced ssl uses implicit TLS", func(t *testing.T) {
		server := testutil.NewTestSMTPServer(t, testutil.SMTPImplicitTLS, f.cert)
		account := f.accountFor(t, "ssl@example.org", server, models.SecuritySSL)

		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "over TLS"})
		require.NoError(t, err)
		assert.Len(t, server.Messages(), 1)
	})

	t.Run("forced starttls upgrades the connection", func(t *testing.T) {
		server := testutil.NewTestSMTPServer(t, testutil.SMTPStartTLS, f.cert)
		account := f.accountFor(t, "starttls@example.org", server, models.SecuritySTARTTLS)

		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "upgraded"})
		require.NoError(t, err)
		assert.Len(t, server.Messages(), 1)
	})

	t.Run("auto falls back to STARTTLS when implicit TLS fails", func(t *testing.T) {
		server := testutil.NewTestSMTPServer(t, testutil.SMTPStartTLS, f.cert)
		account := f.accountFor(t, "fallback@example.org", server, models.SecurityAuto)

		// Make the server's port count as the implicit-TLS port so ssl is tried first.
		d := NewDispatcher(f.store, 5*time.Second)
		d.TLSConfig = f.cert.ClientConfig()
		d.ImplicitTLSPort = account.SMTPPort

		sent, err := d.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "fallback"})
		require.NoError(t, err)
		assert.Equal(t, models.DeliverySent, sent.DeliveryStatus)
		assert.Len(t, server.Messages(), 1)
	})

	t.Run("auto reaches plain when the server offers no TLS", func(t *testing.T) {
		server := testutil.NewTestSMTPServer(t, testutil.SMTPPlainOnly, nil)
		account := f.accountFor(t, "plain@example.org", server, models.SecurityAuto)

		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "cleartext"})
		require.NoError(t, err)
		assert.Len(t, server.Messages(), 1)
	})

	t.Run("forced starttls without server support fails and stores nothing", func(t *testing.T) {
		server := testutil.NewTestSMTPServer(t, testutil.SMTPPlainOnly, nil)
		account := f.accountFor(t, "nostarttls@example.org", server, models.SecuritySTARTTLS)

		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "never sent"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrProtocol))
		assert.True(t, errors.Is(err, ErrStartTLSUnavailable))
		assert.Empty(t, server.Messages())

		messages, err := f.store.ListMessages(ctx, account.ID, "alice@example.com", 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("auto reports every failed strategy in order", func(t *testing.T) {
		account := f.account(t, "down@example.org", "127.0.0.1", closedPort(t), models.SecurityAuto)

		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "nobody home"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrNegotiationExhausted))

		var negErr *NegotiationError
		require.True(t, errors.As(err, &negErr))
		require.Len(t, negErr.Failures, 3)
		assert.Equal(t, StrategySTARTTLS, negErr.Failures[0].Strategy)
		assert.Equal(t, StrategyImplicitTLS, negErr.Failures[1].Strategy)
		assert.Equal(t, StrategyPlain, negErr.Failures[2].Strategy)

		var netErr net.Error
		assert.True(t, errors.As(err, &netErr))

		messages, err := f.store.ListMessages(ctx, account.ID, "alice@example.com", 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("forced plain to a closed port is a connectivity error", func(t *testing.T) {
		account := f.account(t, "closed@example.org", "127.0.0.1", closedPort(t), models.SecurityPlain)

		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConnectivity))
	})
}

func TestSendMessageErrors(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	server := testutil.NewTestSMTPServer(t, testutil.SMTPPlainOnly, nil)
	account := f.accountFor(t, "me@example.org", server, models.SecurityPlain)

	t.Run("unknown account", func(t *testing.T) {
		_, err := f.dispatcher.SendMessage(ctx, account.ID+1000, Outgoing{To: "alice@example.com", Body: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	})

	t.Run("missing recipient", func(t *testing.T) {
		_, err := f.dispatcher.SendMessage(ctx, account.ID, Outgoing{To: "  ", Body: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.dispatcher.SendMessage(cancelled, account.ID, Outgoing{To: "alice@example.com", Body: "x"})
		require.Error(t, err)
		assert.Empty(t, server.Messages())
	})
}

func TestSendGroupMessage(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	server := testutil.NewTestSMTPServer(t, testutil.SMTPPlainOnly, nil)
	account := f.accountFor(t, "me@example.org", server, models.SecurityPlain)

	group, err := f.store.CreateGroup(ctx, account.ID, "Team", []string{"Bob@example.com", "alice@example.com"})
	require.NoError(t, err)

	t.Run("fans out to every member and logs once", func(t *testing.T) {
		entry, err := f.dispatcher.SendGroupMessage(ctx, account.ID, group.ID, Outgoing{Body: "<b>Standup</b> at ten", IsHTML: true})
		require.NoError(t, err)
		assert.NotZero(t, entry.ID)
		assert.Equal(t, models.DirectionOutbound, entry.Direction)
		assert.Equal(t, "me@example.org", entry.SenderEmail)
		assert.Equal(t, "Standup at ten", entry.Body)
		assert.Equal(t, "<b>Standup</b> at ten", entry.BodyHTML)

		received := server.Messages()
		require.Len(t, received, 2)
		assert.Equal(t, []string{"alice@example.com"}, received[0].To)
		assert.Equal(t, []string{"bob@example.com"}, received[1].To)

		for _, member := range []string{"alice@example.com", "bob@example.com"} {
			messages, err := f.store.ListMessages(ctx, account.ID, member, 0)
			require.NoError(t, err)
			require.Len(t, messages, 1, member)
			assert.Equal(t, models.DirectionOutbound, messages[0].Direction)
		}

		log, err := f.store.ListGroupMessages(ctx, account.ID, group.ID)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, entry.ID, log[0].ID)
	})

	t.Run("group without members", func(t *testing.T) {
		empty, err := f.store.CreateGroup(ctx, account.ID, "Nobody", nil)
		require.NoError(t, err)

		_, err = f.dispatcher.SendGroupMessage(ctx, account.ID, empty.ID, Outgoing{Body: "hello?"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := f.dispatcher.SendGroupMessage(ctx, account.ID, group.ID+1000, Outgoing{Body: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	})

	t.Run("first failure aborts the fan-out", func(t *testing.T) {
		broken := f.account(t, "broken@example.org", "127.0.0.1", closedPort(t), models.SecurityPlain)
		team, err := f.store.CreateGroup(ctx, broken.ID, "Team", []string{"alice@example.com", "bob@example.com"})
		require.NoError(t, err)

		_, err = f.dispatcher.SendGroupMessage(ctx, broken.ID, team.ID, Outgoing{Body: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConnectivity))

		log, err := f.store.ListGroupMessages(ctx, broken.ID, team.ID)
		require.NoError(t, err)
		assert.Empty(t, log)
	})
}

// silentServer accepts connections and never sends a greeting.
func silentServer(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		_ = listener.Close()
		<-done
		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestSendMessageTimeouts(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()

	d := NewDispatcher(f.store, 200*time.Millisecond)
	d.TLSConfig = f.cert.ClientConfig()
	d.DialTimeout = 200 * time.Millisecond

	for _, mode := range []models.SecurityMode{models.SecuritySTARTTLS, models.SecurityPlain} {
		t.Run("silent server with "+string(mode), func(t *testing.T) {
			account := f.account(t, "silent-"+string(mode)+"@example.org", "127.0.0.1", silentServer(t), mode)

			start := time.Now()
			_, err := d.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "x"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrConnectivity), "got %v", err)
			assert.Less(t, time.Since(start), 3*time.Second)
		})
	}

	t.Run("unroutable host is bounded by the dial timeout", func(t *testing.T) {
		account := f.account(t, "unroutable@example.org", "10.255.255.1", 25, models.SecurityPlain)

		start := time.Now()
		_, err := d.SendMessage(ctx, account.ID, Outgoing{To: "alice@example.com", Body: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConnectivity), "got %v", err)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("dial timeout defaults", func(t *testing.T) {
		assert.Equal(t, DefaultDialTimeout, NewDispatcher(f.store, time.Second).dialTimeout())
		assert.Equal(t, 200*time.Millisecond, d.dialTimeout())
	})
}
