package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vdavid/mailchat/internal/api"
	"github.com/vdavid/mailchat/internal/config"
	"github.com/vdavid/mailchat/internal/crypto"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/mailchat"
	"github.com/vdavid/mailchat/internal/poller"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	sealer, err := crypto.NewCredentialSealer(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create credential sealer: %v", err)
	}

	store := db.NewStore(pool, sealer)
	engine := mailchat.New(store, mailchat.OptionsFromConfig(cfg))
	scheduler := poller.New(store, engine, cfg.PollWorkers)

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		_ = scheduler.Run(ctx)
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewServer(cfg, store, engine, scheduler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Server shutdown: %v", err)
		}
	}()

	log.Printf("mailchat server starting on %s (environment: %s)", server.Addr, cfg.Environment)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}

	<-pollerDone
	log.Printf("mailchat server stopped")
}

// NewServer creates and returns a new HTTP handler for the mailchat API server.
func NewServer(cfg *config.Config, store *db.Store, engine *mailchat.Engine, scheduler *poller.Poller) http.Handler {
	mux := api.NewRouter(store, engine, scheduler, cfg.APIToken)

	mux.HandleFunc("/", handleRoot)

	return mux
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailchat API is running")
}
