package db

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/config"
	"github.com/vdavid/mailchat/internal/testutil"
)

func TestNewConnectionAndMigrate(t *testing.T) {
	connStr := testutil.StartPostgres(t)

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	password, _ := u.User.Password()

	cfg := &config.Config{
		DBHost:     u.Hostname(),
		DBPort:     u.Port(),
		DBUsername: u.User.Username(),
		DBPassword: password,
		DBName:     u.Path[1:],
		DBSSLMode:  "disable",
	}

	ctx := context.Background()
	pool, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	defer CloseConnection(pool)

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "migrations must be re-runnable")

	var tables int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name IN ('accounts', 'messages', 'sync_state')
	`).Scan(&tables)
	require.NoError(t, err)
	require.Equal(t, 3, tables)
}
