package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/models"
)

func insertInbound(t *testing.T, store *db.Store, accountID int64, from, externalID, body string, sentAt time.Time) *models.Message {
	t.Helper()

	msg := &models.Message{
		AccountID:         accountID,
		ContactEmail:      from,
		Direction:         models.DirectionInbound,
		Subject:           "Hi",
		Body:              body,
		SentAt:            sentAt,
		ExternalMessageID: externalID,
	}
	outcome, err := store.InsertMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, db.OutcomeSaved, outcome)
	return msg
}

func TestChatsHandler(t *testing.T) {
	store := newTestStore(t)
	handler := NewChatsHandler(store)
	readAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return readAt }

	ctx := context.Background()
	account := createTestAccount(t, store, "me@example.com")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := insertInbound(t, store, account.ID, "alice@example.com", "<a1@example.com>", "Hi", base)
	second := insertInbound(t, store, account.ID, "alice@example.com", "<a2@example.com>", "Are you there?", base.Add(time.Minute))
	insertInbound(t, store, account.ID, "bob@example.com", "<b1@example.com>", "Lunch?", base.Add(-time.Hour))

	messagesURL := func(query string) string {
		return fmt.Sprintf("/api/v1/messages?account_id=%d&%s", account.ID, query)
	}

	t.Run("lists chats most recent first", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ListChats(rr, httptest.NewRequest("GET", fmt.Sprintf("/api/v1/chats?account_id=%d", account.ID), nil))

		require.Equal(t, http.StatusOK, rr.Code)
		chats := decodeResponse[[]models.ChatSummary](t, rr)
		require.Len(t, chats, 2)
		assert.Equal(t, "alice@example.com", chats[0].ContactEmail)
		assert.Equal(t, "Are you there?", chats[0].LastBody)
		assert.Equal(t, 2, chats[0].UnreadCount)
		assert.Equal(t, "bob@example.com", chats[1].ContactEmail)
	})

	t.Run("lists a conversation after since_id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ListMessages(rr, httptest.NewRequest("GET", messagesURL(fmt.Sprintf("contact=Alice@example.com&since_id=%d", first.ID)), nil))

		require.Equal(t, http.StatusOK, rr.Code)
		messages := decodeResponse[[]models.Message](t, rr)
		require.Len(t, messages, 1)
		assert.Equal(t, second.ID, messages[0].ID)
		assert.False(t, messages[0].IsRead)
	})

	t.Run("leaves messages unread when mark_read_on_open is off", func(t *testing.T) {
		require.NoError(t, store.SaveSettings(ctx, map[string]string{models.SettingMarkReadOnOpen: "0"}))

		rr := httptest.NewRecorder()
		handler.ListMessages(rr, httptest.NewRequest("GET", messagesURL("contact=alice@example.com&mark_read=1"), nil))

		require.Equal(t, http.StatusOK, rr.Code)
		for _, msg := range decodeResponse[[]models.Message](t, rr) {
			assert.False(t, msg.IsRead)
		}
	})

	t.Run("marks the conversation read on open", func(t *testing.T) {
		require.NoError(t, store.SaveSettings(ctx, map[string]string{models.SettingMarkReadOnOpen: "1"}))

		rr := httptest.NewRecorder()
		handler.ListMessages(rr, httptest.NewRequest("GET", messagesURL("contact=alice@example.com&mark_read=true"), nil))

		require.Equal(t, http.StatusOK, rr.Code)
		messages := decodeResponse[[]models.Message](t, rr)
		require.Len(t, messages, 2)
		for _, msg := range messages {
			assert.True(t, msg.IsRead)
			require.NotNil(t, msg.ReadAt)
			assert.True(t, readAt.Equal(*msg.ReadAt))
		}
	})

	t.Run("requires a contact", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ListMessages(rr, httptest.NewRequest("GET", messagesURL("since_id=0"), nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("marks one message read", func(t *testing.T) {
		bobs, err := store.ListMessages(ctx, account.ID, "bob@example.com", 0)
		require.NoError(t, err)
		require.Len(t, bobs, 1)

		rr := httptest.NewRecorder()
		handler.MarkRead(rr, newJSONRequest(t, "POST", "/api/v1/messages/read", map[string]any{
			"account_id": account.ID,
			"message_id": bobs[0].ID,
		}))
		require.Equal(t, http.StatusNoContent, rr.Code)

		got, err := store.GetMessage(ctx, bobs[0].ID)
		require.NoError(t, err)
		assert.True(t, got.IsRead)
	})

	t.Run("returns 404 for an unknown message", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.MarkRead(rr, newJSONRequest(t, "POST", "/api/v1/messages/read", map[string]any{
			"account_id": account.ID,
			"message_id": 999999,
		}))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
