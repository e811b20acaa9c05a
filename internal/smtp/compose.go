package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/extract"
	"github.com/vdavid/mailchat/internal/models"
)

const (
	chatSubject       = "Chat message"
	htmlFallbackText  = "HTML message"
	defaultAttachName = "attachment"
	defaultAttachType = "application/octet-stream"
	fallbackDomain    = "localhost"
)

// Outgoing is a message as submitted by a caller.
type Outgoing struct {
	To          string
	Body        string
	IsHTML      bool
	Attachments []models.OutboundAttachment
	// InReplyTo is the external identifier of the message being answered, with or without angle brackets.
	InReplyTo string
}

// composed is a ready-to-send message plus what gets persisted about it.
type composed struct {
	MessageID   string
	Text        string
	HTML        string
	Attachments []models.AttachmentMeta
	Raw         []byte
}

type decodedAttachment struct {
	meta models.AttachmentMeta
	data []byte
}

// compose builds the MIME message for out. The text part is always present; for
// HTML bodies it is the tag-stripped fallback and the HTML becomes its alternative.
func compose(account *models.Account, out Outgoing, now time.Time) (*composed, error) {
	attachments, err := decodeAttachments(out.Attachments)
	if err != nil {
		return nil, err
	}

	result := &composed{
		MessageID:   "<" + newMessageID(account.Email) + ">",
		Text:        out.Body,
		Attachments: make([]models.AttachmentMeta, 0, len(attachments)),
	}
	if out.IsHTML {
		result.HTML = out.Body
		result.Text = extract.HTMLToText(out.Body)
	}
	for _, a := range attachments {
		result.Attachments = append(result.Attachments, a.meta)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: account.Name, Address: account.Email}})
	h.SetAddressList("To", []*mail.Address{{Address: out.To}})
	h.SetSubject(chatSubject)
	h.Set("Message-Id", result.MessageID)
	h.Set("Disposition-Notification-To", account.Email)
	h.Set("Return-Receipt-To", account.Email)
	if ref := strings.Trim(strings.TrimSpace(out.InReplyTo), "<>"); ref != "" {
		h.SetMsgIDList("In-Reply-To", []string{ref})
		h.SetMsgIDList("References", []string{ref})
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	text := result.Text
	if out.IsHTML && text == "" {
		text = htmlFallbackText
	}
	if err := writeInline(tw, "text/plain", text); err != nil {
		return nil, err
	}
	if out.IsHTML {
		if err := writeInline(tw, "text/html", out.Body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close text part: %w", err)
	}

	for _, a := range attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(a.meta.ContentType, nil)
		ah.SetFilename(a.meta.Name)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %q: %w", a.meta.Name, err)
		}
		if _, err := w.Write(a.data); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", a.meta.Name, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment %q: %w", a.meta.Name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	result.Raw = buf.Bytes()
	return result, nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

// decodeAttachments decodes the base64 payloads and drops empty ones.
// A data URL prefix ("data:image/png;base64,") is accepted and ignored.
func decodeAttachments(in []models.OutboundAttachment) ([]decodedAttachment, error) {
	var out []decodedAttachment
	for _, a := range in {
		payload := strings.TrimSpace(a.Data)
		if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
			payload = payload[i+len(";base64,"):]
		}

		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrConfiguration, err, fmt.Sprintf("attachment %q is not valid base64", a.Name))
		}
		if len(data) == 0 {
			continue
		}

		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = defaultAttachName
		}
		contentType := strings.ToLower(strings.TrimSpace(a.ContentType))
		if !strings.Contains(contentType, "/") {
			contentType = defaultAttachType
		}

		out = append(out, decodedAttachment{
			meta: models.AttachmentMeta{Name: name, ContentType: contentType, Size: int64(len(data))},
			data: data,
		})
	}
	return out, nil
}

// newMessageID returns a globally unique identifier in the sender's domain, without angle brackets.
func newMessageID(from string) string {
	domain := fallbackDomain
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}
