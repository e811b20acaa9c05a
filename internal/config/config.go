package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration read from the environment.
// Per-user toggles (filters, poll interval) live in the settings table instead; see models.Settings.
type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string
	IMAPTimeout         time.Duration
	SMTPTimeout         time.Duration
	FetchLimit          int
	PollWorkers         int

	// APIToken, when set, is required as a bearer token on every API route.
	APIToken string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILCHAT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	imapTimeout, err := getDurationOrDefault("MAILCHAT_IMAP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	smtpTimeout, err := getDurationOrDefault("MAILCHAT_SMTP_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}
	fetchLimit, err := getIntOrDefault("MAILCHAT_FETCH_LIMIT", 200)
	if err != nil {
		return nil, err
	}
	pollWorkers, err := getIntOrDefault("MAILCHAT_POLL_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILCHAT_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("MAILCHAT_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILCHAT_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILCHAT_DB_USER", "mailchat"),
		DBPassword:          os.Getenv("MAILCHAT_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILCHAT_DB_NAME", "mailchat"),
		DBSSLMode:           getEnvOrDefault("MAILCHAT_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		IMAPTimeout:         imapTimeout,
		SMTPTimeout:         smtpTimeout,
		FetchLimit:          fetchLimit,
		PollWorkers:         pollWorkers,
		APIToken:            os.Getenv("MAILCHAT_API_TOKEN"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILCHAT_ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("MAILCHAT_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("MAILCHAT_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILCHAT_DB_PASSWORD is required")
	}

	if c.FetchLimit <= 0 {
		return fmt.Errorf("MAILCHAT_FETCH_LIMIT must be positive, got %d", c.FetchLimit)
	}

	if c.PollWorkers <= 0 {
		return fmt.Errorf("MAILCHAT_POLL_WORKERS must be positive, got %d", c.PollWorkers)
	}

	if c.IMAPTimeout <= 0 || c.SMTPTimeout <= 0 {
		return fmt.Errorf("IMAP and SMTP timeouts must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s: %w", key, err)
	}
	return d, nil
}
