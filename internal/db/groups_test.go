package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/models"
)

func TestGroups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createTestAccount(t, store, "me@example.com")

	group, err := store.CreateGroup(ctx, account.ID, " Family ", []string{"Bob@example.com", "alice@example.com", "bob@example.com", " "})
	require.NoError(t, err)
	assert.Equal(t, "Family", group.Name)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, group.Members)

	t.Run("get returns members", func(t *testing.T) {
		got, err := store.GetGroup(ctx, account.ID, group.ID)
		require.NoError(t, err)
		assert.Equal(t, group.Members, got.Members)
	})

	t.Run("group of another account is not found", func(t *testing.T) {
		other := createTestAccount(t, store, "other@example.com")
		_, err := store.GetGroup(ctx, other.ID, group.ID)
		assert.ErrorIs(t, err, ErrGroupNotFound)
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		_, err := store.CreateGroup(ctx, account.ID, "Family", nil)
		assert.ErrorIs(t, err, ErrGroupExists)
	})

	t.Run("lists groups including empty ones", func(t *testing.T) {
		_, err := store.CreateGroup(ctx, account.ID, "Empty", nil)
		require.NoError(t, err)

		groups, err := store.ListGroups(ctx, account.ID)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "Empty", groups[0].Name)
		assert.Empty(t, groups[0].Members)
		assert.Len(t, groups[1].Members, 2)
	})

	t.Run("logs group messages", func(t *testing.T) {
		msg := &models.GroupMessage{
			AccountID:   account.ID,
			GroupID:     group.ID,
			Direction:   models.DirectionOutbound,
			SenderEmail: account.Email,
			Body:        "Dinner at 8",
			SentAt:      time.Now(),
		}
		require.NoError(t, store.InsertGroupMessage(ctx, msg))
		assert.NotZero(t, msg.ID)

		log, err := store.ListGroupMessages(ctx, account.ID, group.ID)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, "Dinner at 8", log[0].Body)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteGroup(ctx, account.ID, group.ID))
		assert.ErrorIs(t, store.DeleteGroup(ctx, account.ID, group.ID), ErrGroupNotFound)
	})
}
