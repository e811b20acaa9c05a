package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailchat/internal/db"
	"github.com/vdavid/mailchat/internal/models"
	"github.com/vdavid/mailchat/internal/testutil"
)

// newTestStore returns a store over a fresh migrated Postgres container.
func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	pool := testutil.NewTestDB(t)
	return db.NewStore(pool, testutil.GetTestSealer(t))
}

// createTestAccount stores an account for email and returns it.
func createTestAccount(t *testing.T, store *db.Store, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		Name:         "Test",
		Email:        email,
		IMAPHost:     "imap.test.com",
		IMAPPort:     993,
		IMAPPassword: "imap_pass",
		SMTPHost:     "smtp.test.com",
		SMTPPort:     587,
		SMTPPassword: "smtp_pass",
		UseTLS:       true,
		SMTPSecurity: models.SecurityAuto,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

// newJSONRequest builds a request with body encoded as JSON. A string body is sent as is.
func newJSONRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeResponse decodes the recorded body into a new T.
func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// FailingResponseWriter is a ResponseWriter that fails on Write to test error handling.
type FailingResponseWriter struct {
	http.ResponseWriter
	WriteShouldFail bool
}

func (f *FailingResponseWriter) Write(p []byte) (int, error) {
	if f.WriteShouldFail {
		return 0, fmt.Errorf("write failed")
	}
	return f.ResponseWriter.Write(p)
}
