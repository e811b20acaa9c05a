package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/vdavid/mailchat/internal/crypto"
)

// TestEncryptionKey is a deterministic base64 key shared by tests.
var TestEncryptionKey = func() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}()

// GetTestSealer returns a credential sealer built from TestEncryptionKey.
func GetTestSealer(t *testing.T) *crypto.CredentialSealer {
	t.Helper()

	sealer, err := crypto.NewCredentialSealer(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create sealer: %v", err)
	}
	return sealer
}
