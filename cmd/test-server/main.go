// Command test-server runs the mailchat API against a throwaway Postgres container
// and in-memory IMAP and SMTP servers, with one account and a few chats seeded.
// It is meant for end-to-end tests of API clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/mailchat/internal/api"
	"github.com/vdavid/mailchat/internal/crypto"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/mailchat"
	"github.com/vdavid/mailchat/internal/models"
	"github.com/vdavid/mailchat/internal/poller"
	"github.com/vdavid/mailchat/internal/testutil"
)

const accountEmail = "username@example.org"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start Postgres database
	postgresContainer, connStr, err := startPostgres(ctx)
	if err != nil {
		log.Fatalf("Failed to start Postgres: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			log.Printf("Failed to terminate Postgres container: %v", err)
		}
	}()

	// Start test mail servers
	imapServer, smtpServer, err := startMailServers()
	if err != nil {
		log.Fatalf("Failed to start mail servers: %v", err)
	}
	defer imapServer.Close()
	defer smtpServer.Close()

	if err := seedInbox(imapServer); err != nil {
		log.Fatalf("Failed to seed test data: %v", err)
	}

	pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to setup database: %v", err)
	}
	defer pool.Close()

	sealer, err := crypto.NewCredentialSealer(testutil.TestEncryptionKey)
	if err != nil {
		log.Fatalf("Failed to create credential sealer: %v", err)
	}
	store := db.NewStore(pool, sealer)
	engine := mailchat.New(store, mailchat.Options{IMAPTimeout: 30 * time.Second, SMTPTimeout: 20 * time.Second})
	scheduler := poller.New(store, engine, 1)

	account, err := seedAccount(ctx, store, imapServer, smtpServer)
	if err != nil {
		log.Fatalf("Failed to seed account: %v", err)
	}

	saved, err := engine.SyncAccount(ctx, account.ID)
	if err != nil {
		log.Printf("Warning: Failed to sync seeded INBOX: %v", err)
	} else {
		log.Printf("Synced %d seeded messages", saved)
	}

	go func() {
		_ = scheduler.Run(ctx)
	}()

	if err := serve(ctx, getEnvOrDefault("PORT", "8080"), api.NewRouter(store, engine, scheduler, os.Getenv("MAILCHAT_API_TOKEN"))); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// startPostgres starts a test Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Println("Starting test Postgres database...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailchat_test"),
		postgres.WithUsername("mailchat"),
		postgres.WithPassword("mailchat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	log.Println("Test Postgres database started")
	return postgresContainer, connStr, nil
}

// startMailServers starts test IMAP and SMTP servers. Both speak cleartext.
func startMailServers() (*testutil.TestIMAPServer, *testutil.TestSMTPServer, error) {
	imapServer, err := testutil.StartTestIMAPServer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	log.Printf("Test IMAP server started on %s", imapServer.Address)

	smtpServer, err := testutil.StartTestSMTPServer(testutil.SMTPPlainOnly, nil)
	if err != nil {
		imapServer.Close()
		return nil, nil, fmt.Errorf("failed to start test SMTP server: %w", err)
	}
	log.Printf("Test SMTP server started on %s", smtpServer.Address)

	return imapServer, smtpServer, nil
}

// setupDatabase creates a database connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Successfully connected to database and ran migrations")
	return pool, nil
}

// seedInbox appends a small chat history next to the memory backend's sample message:
// two conversations, one of them a reply with quoted history, and a newsletter that is filtered out.
func seedInbox(imapServer *testutil.TestIMAPServer) error {
	now := time.Now().UTC()
	messages := []testutil.RawMail{
		{
			MessageID: "<seed1@example.com>",
			From:      "Alice <alice@example.com>",
			To:        accountEmail,
			Subject:   "Hi",
			Date:      now.Add(-2 * time.Hour),
			Body:      "Are we still on for Friday?",
		},
		{
			MessageID: "<seed2@example.com>",
			From:      "Bob <bob@example.com>",
			To:        accountEmail,
			Subject:   "Re: Lunch",
			Date:      now.Add(-time.Hour),
			Body:      "Sounds good, see you at noon.\n\nOn Mon, Alice wrote:\n> Lunch tomorrow?",
		},
		{
			MessageID: "<seed3@example.com>",
			From:      "Shop <newsletter@shop.example.com>",
			To:        accountEmail,
			Subject:   "Big sale this week",
			Date:      now.Add(-30 * time.Minute),
			Headers:   map[string]string{"List-Unsubscribe": "<mailto:unsubscribe@shop.example.com>"},
			Body:      "Everything must go.",
		},
	}

	for _, msg := range messages {
		if _, err := imapServer.Append(msg.String()); err != nil {
			return fmt.Errorf("failed to add message %s: %w", msg.MessageID, err)
		}
	}
	return nil
}

// seedAccount stores an account wired to the in-memory servers.
func seedAccount(ctx context.Context, store *db.Store, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) (*models.Account, error) {
	imapHost, imapPort, err := splitHostPort(imapServer.Address)
	if err != nil {
		return nil, err
	}
	smtpHost, smtpPort, err := splitHostPort(smtpServer.Address)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Name:         "Test User",
		Email:        accountEmail,
		Login:        imapServer.Username(),
		IMAPHost:     imapHost,
		IMAPPort:     imapPort,
		IMAPPassword: imapServer.Password(),
		SMTPHost:     smtpHost,
		SMTPPort:     smtpPort,
		SMTPPassword: imapServer.Password(),
		UseTLS:       false,
		SMTPSecurity: models.SecurityPlain,
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	log.Printf("Seeded account %d (%s)", account.ID, account.Email)
	return account, nil
}

// serve runs the HTTP server until ctx is done.
func serve(ctx context.Context, port string, handler http.Handler) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("mailchat test server starting on %s", server.Addr)
	log.Println("Server ready for E2E tests. Press Ctrl+C to stop.")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func splitHostPort(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("failed to split %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse port %q: %w", portStr, err)
	}
	return host, port, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
