package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/models"
	"github.com/vdavid/mailchat/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.NewTestDB(t), testutil.GetTestSealer(t))
}

func createTestAccount(t *testing.T, store *Store, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		Name:         "Test",
		Email:        email,
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPPassword: "imap-secret",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPPassword: "smtp-secret",
		UseTLS:       true,
		SMTPSecurity: models.SecurityAuto,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}
