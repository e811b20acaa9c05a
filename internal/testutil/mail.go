package testutil

import (
	"fmt"
	"strings"
	"time"
)

// RawMail builds simple RFC 822 test messages.
type RawMail struct {
	MessageID   string
	From        string
	To          string
	Subject     string
	Date        time.Time
	ContentType string
	Headers     map[string]string
	Body        string
}

// String renders the message with LF line endings.
func (m RawMail) String() string {
	var b strings.Builder
	if m.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", m.MessageID)
	}
	date := m.Date
	if date.IsZero() {
		date = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	}
	fmt.Fprintf(&b, "Date: %s\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\n", m.From)
	to := m.To
	if to == "" {
		to = "username@example.org"
	}
	fmt.Fprintf(&b, "To: %s\n", to)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	for key, value := range m.Headers {
		fmt.Fprintf(&b, "%s: %s\n", key, value)
	}
	contentType := m.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	fmt.Fprintf(&b, "MIME-Version: 1.0\nContent-Type: %s\n\n%s\n", contentType, m.Body)
	return b.String()
}
