package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/models"
)

func TestInsertMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createTestAccount(t, store, "me@example.com")

	newMessage := func(externalID string) *models.Message {
		return &models.Message{
			AccountID:         account.ID,
			ContactEmail:      "alice@example.com",
			Direction:         models.DirectionInbound,
			Subject:           "Hi",
			Body:              "Hello",
			SentAt:            time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600)),
			ExternalMessageID: externalID,
			Attachments:       []models.AttachmentMeta{{Name: "a.txt", ContentType: "text/plain", Size: 3}},
		}
	}

	t.Run("saves a new message", func(t *testing.T) {
		msg := newMessage("<one@example.com>")
		outcome, err := store.InsertMessage(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSaved, outcome)
		assert.NotZero(t, msg.ID)

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.SentAt.Location())
		assert.Equal(t, time.Date(2024, 1, 2, 2, 4, 5, 0, time.UTC), got.SentAt)
		assert.Equal(t, models.DeliverySent, got.DeliveryStatus)
		assert.Equal(t, msg.Attachments, got.Attachments)
		assert.Empty(t, got.BodyHTML)
	})

	t.Run("reports duplicate external id", func(t *testing.T) {
		outcome, err := store.InsertMessage(ctx, newMessage("<one@example.com>"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)

		messages, err := store.ListMessages(ctx, account.ID, "alice@example.com", 0)
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("same external id on another account is not a duplicate", func(t *testing.T) {
		other := createTestAccount(t, store, "other@example.com")
		msg := newMessage("<one@example.com>")
		msg.AccountID = other.ID
		outcome, err := store.InsertMessage(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSaved, outcome)
	})

	t.Run("lists since id", func(t *testing.T) {
		first, err := store.ListMessages(ctx, account.ID, "alice@example.com", 0)
		require.NoError(t, err)
		require.NotEmpty(t, first)

		second := newMessage("<two@example.com>")
		_, err = store.InsertMessage(ctx, second)
		require.NoError(t, err)

		newer, err := store.ListMessages(ctx, account.ID, "alice@example.com", first[len(first)-1].ID)
		require.NoError(t, err)
		require.Len(t, newer, 1)
		assert.Equal(t, second.ID, newer[0].ID)
	})
}

func TestMarkReceiptRead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createTestAccount(t, store, "me@example.com")

	outbound := &models.Message{
		AccountID:         account.ID,
		ContactEmail:      "alice@example.com",
		Direction:         models.DirectionOutbound,
		Body:              "Are you there?",
		SentAt:            time.Now(),
		ExternalMessageID: "<sent@example.com>",
		DeliveryStatus:    models.DeliverySent,
		IsRead:            true,
	}
	_, err := store.InsertMessage(ctx, outbound)
	require.NoError(t, err)

	firstRead := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("unknown id matches nothing", func(t *testing.T) {
		matched, err := store.MarkReceiptRead(ctx, account.ID, "<unknown@example.com>", firstRead)
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("first receipt sets status and read_at", func(t *testing.T) {
		matched, err := store.MarkReceiptRead(ctx, account.ID, "<sent@example.com>", firstRead)
		require.NoError(t, err)
		assert.True(t, matched)

		got, err := store.GetMessage(ctx, outbound.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryRead, got.DeliveryStatus)
		require.NotNil(t, got.ReadAt)
		assert.Equal(t, firstRead, *got.ReadAt)
	})

	t.Run("second receipt keeps the first read_at", func(t *testing.T) {
		_, err := store.MarkReceiptRead(ctx, account.ID, "<sent@example.com>", firstRead.Add(time.Hour))
		require.NoError(t, err)

		got, err := store.GetMessage(ctx, outbound.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryRead, got.DeliveryStatus)
		assert.Equal(t, firstRead, *got.ReadAt)
	})

	t.Run("inbound messages are never matched", func(t *testing.T) {
		inbound := &models.Message{
			AccountID:         account.ID,
			ContactEmail:      "alice@example.com",
			Direction:         models.DirectionInbound,
			Body:              "Yes",
			SentAt:            time.Now(),
			ExternalMessageID: "<inbound@example.com>",
		}
		_, err := store.InsertMessage(ctx, inbound)
		require.NoError(t, err)

		matched, err := store.MarkReceiptRead(ctx, account.ID, "<inbound@example.com>", firstRead)
		require.NoError(t, err)
		assert.False(t, matched)
	})
}

func TestReadTracking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createTestAccount(t, store, "me@example.com")
	require.NoError(t, store.UpsertContact(ctx, account.ID, "alice@example.com", "Alice"))

	for i, id := range []string{"<a@x>", "<b@x>"} {
		_, err := store.InsertMessage(ctx, &models.Message{
			AccountID:         account.ID,
			ContactEmail:      "alice@example.com",
			Direction:         models.DirectionInbound,
			Body:              "msg",
			SentAt:            time.Now().Add(time.Duration(i) * time.Minute),
			ExternalMessageID: id,
		})
		require.NoError(t, err)
	}

	chats, err := store.ListChats(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Alice", chats[0].DisplayName)
	assert.Equal(t, 2, chats[0].UnreadCount)

	messages, err := store.ListMessages(ctx, account.ID, "alice@example.com", 0)
	require.NoError(t, err)
	require.NoError(t, store.MarkMessageRead(ctx, account.ID, messages[0].ID, time.Now()))
	assert.ErrorIs(t, store.MarkMessageRead(ctx, account.ID, 999999, time.Now()), ErrMessageNotFound)

	n, err := store.MarkConversationRead(ctx, account.ID, "alice@example.com", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	chats, err = store.ListChats(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, chats[0].UnreadCount)
}
