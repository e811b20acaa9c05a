// Command mailchat administers a mailchat installation from the shell: schema
// migration, accounts, one-off syncs and sends, and the background poller.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailchat/internal/config"
	"github.com/vdavid/mailchat/internal/crypto"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/mailchat"
	"github.com/vdavid/mailchat/internal/poller"
)

// app is what every subcommand works against.
type app struct {
	pool   *pgxpool.Pool
	store  *db.Store
	engine *mailchat.Engine
	poller *poller.Poller
}

// openApp connects to the configured database and builds the engine over it.
func openApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sealer, err := crypto.NewCredentialSealer(cfg.EncryptionKeyBase64)
	if err != nil {
		db.CloseConnection(pool)
		return nil, nil, fmt.Errorf("failed to create credential sealer: %w", err)
	}

	store := db.NewStore(pool, sealer)
	engine := mailchat.New(store, mailchat.OptionsFromConfig(cfg))
	a := &app{
		pool:   pool,
		store:  store,
		engine: engine,
		poller: poller.New(store, engine, cfg.PollWorkers),
	}
	return a, func() { db.CloseConnection(pool) }, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openApp).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
