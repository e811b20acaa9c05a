package imap

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/vdavid/mailchat/internal/classify"
	"github.com/vdavid/mailchat/internal/extract"
)

// inboundMessage is a fetched mail parsed into the parts the sync engine needs.
type inboundMessage struct {
	UID       uint32
	MessageID string
	From      string
	FromName  string
	Subject   string
	SentAt    time.Time
	InReplyTo string
	Envelope  classify.Envelope
	Content   classify.Content
	Root      *enmime.Part
}

// parseMessage parses raw RFC 822 bytes. A missing Message-ID falls back to
// "uid:<UID>", and a missing or unparsable Date to now.
func parseMessage(uid uint32, raw []byte, now time.Time) (*inboundMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message UID %d: %w", uid, err)
	}

	msg := &inboundMessage{
		UID:       uid,
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
		InReplyTo: strings.TrimSpace(env.GetHeader("In-Reply-To")),
		Root:      env.Root,
	}
	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("uid:%d", uid)
	}

	msg.From, msg.FromName = parseFrom(env)

	msg.SentAt = now.UTC()
	if date, err := env.Date(); err == nil && !date.IsZero() {
		msg.SentAt = date.UTC()
	}

	sample, _ := extract.Bodies(env.Root, false)
	if notification := extract.NotificationText(env.Root); notification != "" {
		sample = strings.TrimSpace(sample + "\n" + notification)
	}

	msg.Envelope = classify.Envelope{
		From:              msg.From,
		Subject:           msg.Subject,
		ContentType:       env.GetHeader("Content-Type"),
		ListID:            env.GetHeader("List-ID"),
		Precedence:        env.GetHeader("Precedence"),
		AutoSubmitted:     env.GetHeader("Auto-Submitted"),
		OriginalMessageID: env.GetHeader("Original-Message-ID"),
	}
	msg.Content = classify.Content{
		Text:            sample,
		AttachmentNames: extract.FileNames(env.Root),
	}

	return msg, nil
}

// parseFrom returns the lowercased sender address and display name. When the
// header is not a valid address list, the raw header is used as the address.
func parseFrom(env *enmime.Envelope) (address, name string) {
	addresses, err := env.AddressList("From")
	if err == nil && len(addresses) > 0 && addresses[0].Address != "" {
		return normalizeAddress(addresses[0].Address), strings.TrimSpace(addresses[0].Name)
	}

	raw := env.GetHeader("From")
	if parsed, err := mail.ParseAddress(raw); err == nil {
		return normalizeAddress(parsed.Address), strings.TrimSpace(parsed.Name)
	}
	return normalizeAddress(raw), ""
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
