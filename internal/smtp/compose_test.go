package smtp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/models"
)

var composeTime = time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)

func composeAccount() *models.Account {
	return &models.Account{ID: 1, Name: "Me", Email: "me@example.org"}
}

func parseComposed(t *testing.T, msg *composed) *enmime.Envelope {
	t.Helper()
	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	require.NoError(t, err)
	return env
}

func TestComposePlainText(t *testing.T) {
	msg, err := compose(composeAccount(), Outgoing{To: "alice@example.com", Body: "Hello Alice"}, composeTime)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(msg.MessageID, "<"))
	assert.True(t, strings.HasSuffix(msg.MessageID, "@example.org>"))
	assert.Equal(t, "Hello Alice", msg.Text)
	assert.Empty(t, msg.HTML)
	assert.Empty(t, msg.Attachments)

	env := parseComposed(t, msg)
	assert.Equal(t, "Chat message", env.GetHeader("Subject"))
	assert.Equal(t, msg.MessageID, env.GetHeader("Message-Id"))
	assert.Equal(t, "me@example.org", env.GetHeader("Disposition-Notification-To"))
	assert.Equal(t, "me@example.org", env.GetHeader("Return-Receipt-To"))
	assert.Contains(t, env.GetHeader("To"), "alice@example.com")
	assert.Empty(t, env.GetHeader("In-Reply-To"))
	assert.Equal(t, "Hello Alice", strings.TrimSpace(env.Text))
	assert.Empty(t, env.HTML)
}

func TestComposeHTML(t *testing.T) {
	t.Run("text fallback is stripped HTML", func(t *testing.T) {
		body := "<p>Hi <b>there</b></p>"
		msg, err := compose(composeAccount(), Outgoing{To: "alice@example.com", Body: body, IsHTML: true}, composeTime)
		require.NoError(t, err)

		assert.Equal(t, "Hi there", msg.Text)
		assert.Equal(t, body, msg.HTML)

		env := parseComposed(t, msg)
		assert.Equal(t, "Hi there", strings.TrimSpace(env.Text))
		assert.Contains(t, env.HTML, "<b>there</b>")
	})

	t.Run("markup without text gets a placeholder part", func(t *testing.T) {
		msg, err := compose(composeAccount(), Outgoing{To: "alice@example.com", Body: "<img src=\"x.png\">", IsHTML: true}, composeTime)
		require.NoError(t, err)

		env := parseComposed(t, msg)
		assert.Equal(t, "HTML message", strings.TrimSpace(env.Text))
	})
}

func TestComposeReplyHeaders(t *testing.T) {
	for _, ref := range []string{"<orig-1@example.com>", "orig-1@example.com"} {
		msg, err := compose(composeAccount(), Outgoing{To: "alice@example.com", Body: "Yes", InReplyTo: ref}, composeTime)
		require.NoError(t, err)

		env := parseComposed(t, msg)
		assert.Equal(t, "<orig-1@example.com>", env.GetHeader("In-Reply-To"), "ref %q", ref)
		assert.Equal(t, "<orig-1@example.com>", env.GetHeader("References"), "ref %q", ref)
	}
}

func TestComposeAttachments(t *testing.T) {
	payload := []byte("%PDF-1.4 test")

	msg, err := compose(composeAccount(), Outgoing{
		To:   "alice@example.com",
		Body: "See attached",
		Attachments: []models.OutboundAttachment{
			{Name: "report.pdf", ContentType: "application/pdf", Data: base64.StdEncoding.EncodeToString(payload)},
			{Name: "empty.txt", ContentType: "text/plain", Data: ""},
			{Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})},
		},
	}, composeTime)
	require.NoError(t, err)

	assert.Equal(t, []models.AttachmentMeta{
		{Name: "report.pdf", ContentType: "application/pdf", Size: int64(len(payload))},
		{Name: "attachment", ContentType: "application/octet-stream", Size: 4},
	}, msg.Attachments)

	env := parseComposed(t, msg)
	require.Len(t, env.Attachments, 2)
	assert.Equal(t, "report.pdf", env.Attachments[0].FileName)
	assert.Equal(t, payload, env.Attachments[0].Content)
	assert.Equal(t, "See attached", strings.TrimSpace(env.Text))
}

func TestComposeRejectsInvalidBase64(t *testing.T) {
	_, err := compose(composeAccount(), Outgoing{
		To:          "alice@example.com",
		Body:        "x",
		Attachments: []models.OutboundAttachment{{Name: "a.bin", Data: "not base64!"}},
	}, composeTime)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestNewMessageID(t *testing.T) {
	a := newMessageID("me@example.org")
	b := newMessageID("me@example.org")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "@example.org"))
	assert.True(t, strings.HasSuffix(newMessageID("broken"), "@localhost"))
}
