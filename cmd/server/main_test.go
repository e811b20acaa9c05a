package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/config"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/mailchat"
	"github.com/vdavid/mailchat/internal/poller"
	"github.com/vdavid/mailchat/internal/testutil"
)

func getTestConfig() *config.Config {
	return &config.Config{
		Environment:         "test",
		EncryptionKeyBase64: testutil.TestEncryptionKey,
		Port:                "8080",
		Timezone:            "UTC",
		IMAPTimeout:         5 * time.Second,
		SMTPTimeout:         5 * time.Second,
		FetchLimit:          200,
		PollWorkers:         1,
		APIToken:            "s3cret",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()

	store := db.NewStore(testutil.NewTestDB(t), testutil.GetTestSealer(t))
	engine := mailchat.New(store, mailchat.OptionsFromConfig(cfg))
	return NewServer(cfg, store, engine, poller.New(store, engine, cfg.PollWorkers))
}

func TestHandleRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handleRoot(w, req)

	res := w.Result()
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			t.Fatalf("failed to close response body: %v", err)
		}
	}(res.Body)

	if res.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", res.StatusCode)
	}

	contentType := res.Header.Get("Content-Type")
	if contentType != "text/plain" {
		t.Errorf("expected Content-Type 'text/plain', got '%s'", contentType)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	expected := "mailchat API is running"
	if string(body) != expected {
		t.Errorf("expected body '%s', got '%s'", expected, string(body))
	}
}

func TestHandleRootUnknownPath(t *testing.T) {
	w := httptest.NewRecorder()
	handleRoot(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestNewServer(t *testing.T) {
	cfg := getTestConfig()
	server := newTestServer(t, cfg)

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		server.ServeHTTP(rr, req)
		return rr
	}

	t.Run("root needs no token", func(t *testing.T) {
		rr := do(http.MethodGet, "/", "", "")
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("api routes require the token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/settings", "", "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/settings", "wrong", "").Code)
	})

	t.Run("serves settings with the token", func(t *testing.T) {
		rr := do(http.MethodGet, "/api/v1/settings", cfg.APIToken, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "poll_interval_ms")
	})

	t.Run("rejects unsupported methods", func(t *testing.T) {
		assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodDelete, "/api/v1/settings", cfg.APIToken, "").Code)
		assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodGet, "/api/v1/send", cfg.APIToken, "").Code)
	})

	t.Run("routes an account through to the store", func(t *testing.T) {
		rr := do(http.MethodPost, "/api/v1/accounts", cfg.APIToken,
			`{"name":"Me","email":"me@example.com","imap_host":"imap.example.com","smtp_host":"smtp.example.com","password":"pw"}`)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = do(http.MethodGet, "/api/v1/accounts", cfg.APIToken, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "me@example.com")
	})

	t.Run("reports an idle sync status", func(t *testing.T) {
		rr := do(http.MethodGet, "/api/v1/sync/status?account_id=1", cfg.APIToken, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"state":"idle"`)
	})
}

func TestNewServerWithoutToken(t *testing.T) {
	cfg := getTestConfig()
	cfg.APIToken = ""
	server := newTestServer(t, cfg)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/chats?account_id=1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}
