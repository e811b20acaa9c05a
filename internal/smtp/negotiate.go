package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/models"
)

// DefaultImplicitTLSPort is the submission port that expects TLS from the first byte.
const DefaultImplicitTLSPort = 465

// DefaultDialTimeout bounds the TCP connect, and the TLS handshake for implicit TLS.
const DefaultDialTimeout = 5 * time.Second

// ErrStartTLSUnavailable is returned by the STARTTLS strategy when the server does not offer the extension.
var ErrStartTLSUnavailable = errors.New("server does not advertise STARTTLS")

// errNoStartTLS is the text go-smtp uses for a server without STARTTLS.
const errNoStartTLS = "smtp: server doesn't support STARTTLS"

// Strategy is one way of securing the transport connection.
type Strategy int

const (
	StrategyImplicitTLS Strategy = iota
	StrategySTARTTLS
	StrategyPlain
)

func (s Strategy) String() string {
	switch s {
	case StrategyImplicitTLS:
		return "ssl"
	case StrategySTARTTLS:
		return "starttls"
	case StrategyPlain:
		return "plain"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Strategies returns the attempt order for a security mode. Forced modes yield a
// single strategy. Auto prefers implicit TLS on the implicit-TLS port and STARTTLS elsewhere.
func Strategies(mode models.SecurityMode, port, implicitTLSPort int) []Strategy {
	switch mode {
	case models.SecuritySSL:
		return []Strategy{StrategyImplicitTLS}
	case models.SecuritySTARTTLS:
		return []Strategy{StrategySTARTTLS}
	case models.SecurityPlain:
		return []Strategy{StrategyPlain}
	}
	if port == implicitTLSPort {
		return []Strategy{StrategyImplicitTLS, StrategySTARTTLS, StrategyPlain}
	}
	return []Strategy{StrategySTARTTLS, StrategyImplicitTLS, StrategyPlain}
}

// StrategyFailure records why one attempt failed.
type StrategyFailure struct {
	Strategy Strategy
	Err      error
}

// NegotiationError is returned when every strategy of an auto-mode send failed.
// Failures are in attempt order; Unwrap yields the cause of the last one.
type NegotiationError struct {
	Failures []StrategyFailure
}

func (e *NegotiationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Strategy, f.Err))
	}
	return apperrors.ErrNegotiationExhausted.Error() + ": " + strings.Join(parts, "; ")
}

func (e *NegotiationError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}

func (e *NegotiationError) Is(target error) bool {
	return target == apperrors.ErrNegotiationExhausted
}

// envelope is what a strategy attempt transmits.
type envelope struct {
	from string
	to   []string
	raw  []byte
}

// negotiate sends env over the strategies in order and returns the one that worked.
// A forced mode has one strategy and its failure is returned classified.
// In auto mode only transport-class failures move on to the next strategy.
func (d *Dispatcher) negotiate(ctx context.Context, account *models.Account, env envelope) (Strategy, error) {
	strategies := Strategies(account.SMTPSecurity, account.SMTPPort, d.implicitTLSPort())

	if len(strategies) == 1 {
		if err := d.attempt(ctx, strategies[0], account, env); err != nil {
			if isContextError(err) {
				return 0, err
			}
			return 0, classifyTransportError(err, fmt.Sprintf("%s delivery via %s failed", strategies[0], account.SMTPHost))
		}
		return strategies[0], nil
	}

	negErr := &NegotiationError{}
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		err := d.attempt(ctx, strategy, account, env)
		if err == nil {
			return strategy, nil
		}
		if !isTransportError(err) {
			return 0, err
		}
		negErr.Failures = append(negErr.Failures, StrategyFailure{Strategy: strategy, Err: err})
	}

	return 0, negErr
}

// attempt opens a fresh connection secured by strategy, authenticates and submits env.
func (d *Dispatcher) attempt(ctx context.Context, strategy Strategy, account *models.Account, env envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	address := net.JoinHostPort(account.SMTPHost, strconv.Itoa(account.SMTPPort))
	tlsConfig := d.tlsConfigFor(account.SMTPHost)

	conn, err := d.dial(ctx, strategy, address, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	var c *gosmtp.Client
	if strategy == StrategySTARTTLS {
		c, err = d.upgrade(conn, tlsConfig)
		if err != nil {
			return err
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	defer func() {
		_ = c.Close()
	}()
	if d.Timeout > 0 {
		c.CommandTimeout = d.Timeout
		c.SubmissionTimeout = d.Timeout
	}

	if err := c.Auth(plainAuth(account)); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := c.SendMail(env.from, env.to, bytes.NewReader(env.raw)); err != nil {
		return fmt.Errorf("failed to submit message: %w", err)
	}

	// The server has accepted the message; a failed QUIT changes nothing.
	_ = c.Quit()
	return nil
}

// dial connects with the dial timeout. Implicit TLS completes its handshake here.
func (d *Dispatcher) dial(ctx context.Context, strategy Strategy, address string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: d.dialTimeout(),
	}

	if strategy == StrategyImplicitTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    tlsConfig,
		}
		return tlsDialer.DialContext(ctx, "tcp", address)
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// upgrade reads the greeting and runs STARTTLS on conn. go-smtp applies its own
// five-minute command timeout to this exchange, so the connection is closed
// once d.Timeout has passed.
func (d *Dispatcher) upgrade(conn net.Conn, tlsConfig *tls.Config) (*gosmtp.Client, error) {
	if d.Timeout > 0 {
		timer := time.AfterFunc(d.Timeout, func() {
			_ = conn.Close()
		})
		defer timer.Stop()
	}

	c, err := gosmtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		_ = conn.Close()
		if err.Error() == errNoStartTLS {
			return nil, ErrStartTLSUnavailable
		}
		return nil, fmt.Errorf("failed to start TLS: %w", err)
	}
	return c, nil
}

func (d *Dispatcher) dialTimeout() time.Duration {
	if d.DialTimeout > 0 {
		return d.DialTimeout
	}
	return DefaultDialTimeout
}

func (d *Dispatcher) tlsConfigFor(host string) *tls.Config {
	var cfg *tls.Config
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func (d *Dispatcher) implicitTLSPort() int {
	if d.ImplicitTLSPort > 0 {
		return d.ImplicitTLSPort
	}
	return DefaultImplicitTLSPort
}

// isTransportError reports whether err came from the network, TLS or the
// SMTP dialogue, the failures that justify trying another strategy.
func isTransportError(err error) bool {
	if err == nil || isContextError(err) {
		return false
	}
	if errors.Is(err, ErrStartTLSUnavailable) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var smtpErr *gosmtp.SMTPError
	var netErr net.Error
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	var certErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	switch {
	case errors.As(err, &smtpErr),
		errors.As(err, &netErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &certErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return true
	}

	// crypto/tls and go-smtp report some failures as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "tls: ") || strings.Contains(msg, "smtp: ")
}

// classifyTransportError maps a forced-mode failure onto the error taxonomy:
// server replies and missing extensions are protocol errors, the rest connectivity.
func classifyTransportError(err error, message string) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) || errors.Is(err, ErrStartTLSUnavailable) || strings.Contains(err.Error(), "smtp: ") {
		return apperrors.Protocol(err, message)
	}
	return apperrors.Connectivity(err, message)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
