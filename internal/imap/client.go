package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/models"
)

const inboxName = "INBOX"

// ConnectToIMAP connects to the IMAP server with a 5-second dial timeout.
// useTLS selects implicit TLS; plain connections are for local test servers.
func ConnectToIMAP(address string, useTLS bool, tlsConfig *tls.Config) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, address, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}

// openInbox dials, authenticates and selects INBOX. The returned client must be
// released with closeSession. Failures are classified as connectivity or protocol errors.
func openInbox(account *models.Account, timeout time.Duration, tlsConfig *tls.Config) (*client.Client, error) {
	address := net.JoinHostPort(account.IMAPHost, strconv.Itoa(account.IMAPPort))

	c, err := ConnectToIMAP(address, account.UseTLS, tlsConfig)
	if err != nil {
		return nil, classifyError(err, "failed to connect to "+address)
	}
	c.Timeout = timeout

	if err := Login(c, account.LoginName(), account.IMAPPassword); err != nil {
		closeSession(c)
		return nil, classifyError(err, "IMAP login rejected for "+account.LoginName())
	}

	if _, err := c.Select(inboxName, false); err != nil {
		closeSession(c)
		return nil, classifyError(err, "failed to select "+inboxName)
	}

	return c, nil
}

// closeSession logs out and ignores the outcome; a dead connection has nothing left to release.
func closeSession(c *client.Client) {
	if c == nil {
		return
	}
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
	}
}

// classifyError tags network and TLS failures as connectivity errors and
// everything else (rejected commands, bad credentials) as protocol errors.
func classifyError(err error, message string) error {
	if isConnectivityError(err) {
		return apperrors.Connectivity(err, message)
	}
	return apperrors.Protocol(err, message)
}

func isConnectivityError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, client.ErrAlreadyLoggedOut)
}
