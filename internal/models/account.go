package models

import (
	"fmt"
	"strings"
	"time"
)

// SecurityMode selects how the transport connection is secured.
type SecurityMode string

const (
	SecurityAuto     SecurityMode = "auto"
	SecuritySSL      SecurityMode = "ssl"
	SecuritySTARTTLS SecurityMode = "starttls"
	SecurityPlain    SecurityMode = "plain"
)

// ParseSecurityMode accepts a mode name case-insensitively. An empty string means auto.
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch mode := SecurityMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return SecurityAuto, nil
	case SecurityAuto, SecuritySSL, SecuritySTARTTLS, SecurityPlain:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown security mode %q", s)
	}
}

// Account is one mailbox plus the identity used to send from it.
// Passwords are held decrypted in memory and never serialized.
type Account struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Login        string       `json:"login,omitempty"`
	IMAPHost     string       `json:"imap_host"`
	IMAPPort     int          `json:"imap_port"`
	IMAPPassword string       `json:"-"`
	SMTPHost     string       `json:"smtp_host"`
	SMTPPort     int          `json:"smtp_port"`
	SMTPPassword string       `json:"-"`
	UseTLS       bool         `json:"use_ssl"`
	SMTPSecurity SecurityMode `json:"smtp_security"`
	CreatedAt    time.Time    `json:"created_at"`
}

// LoginName is the user name for mailbox and transport authentication.
// Most providers use the address itself.
func (a *Account) LoginName() string {
	if a.Login != "" {
		return a.Login
	}
	return a.Email
}

// AccountRequest is the payload for creating an account.
type AccountRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Login        string `json:"login,omitempty"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	Password     string `json:"password"`
	SMTPPassword string `json:"smtp_password,omitempty"`
	UseSSL       *bool  `json:"use_ssl,omitempty"`
	SMTPSecurity string `json:"smtp_security,omitempty"`
}

// ToAccount validates the request and fills defaults: ports 993/587, TLS on,
// security auto, and the mailbox password reused for transport when none is given.
func (r *AccountRequest) ToAccount() (*Account, error) {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"name", r.Name},
		{"email", r.Email},
		{"imap_host", r.IMAPHost},
		{"smtp_host", r.SMTPHost},
		{"password", r.Password},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	mode, err := ParseSecurityMode(r.SMTPSecurity)
	if err != nil {
		return nil, err
	}

	account := &Account{
		Name:         strings.TrimSpace(r.Name),
		Email:        strings.ToLower(strings.TrimSpace(r.Email)),
		Login:        strings.TrimSpace(r.Login),
		IMAPHost:     strings.TrimSpace(r.IMAPHost),
		IMAPPort:     r.IMAPPort,
		IMAPPassword: r.Password,
		SMTPHost:     strings.TrimSpace(r.SMTPHost),
		SMTPPort:     r.SMTPPort,
		SMTPPassword: r.SMTPPassword,
		UseTLS:       true,
		SMTPSecurity: mode,
	}
	if account.IMAPPort == 0 {
		account.IMAPPort = 993
	}
	if account.SMTPPort == 0 {
		account.SMTPPort = 587
	}
	if account.SMTPPassword == "" {
		account.SMTPPassword = r.Password
	}
	if r.UseSSL != nil {
		account.UseTLS = *r.UseSSL
	}

	return account, nil
}
