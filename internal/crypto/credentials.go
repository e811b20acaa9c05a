// Package crypto seals account passwords at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// CredentialSealer encrypts account passwords with AES-GCM. Each sealed value is bound to
// the account address through the additional authenticated data, so a ciphertext copied
// onto another account's row fails to open.
type CredentialSealer struct {
	aead cipher.AEAD
}

// NewCredentialSealer builds a sealer from a base64-encoded 32-byte key.
func NewCredentialSealer(base64Key string) (*CredentialSealer, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &CredentialSealer{aead: aead}, nil
}

// Seal returns [nonce][ciphertext+tag] for password, bound to accountEmail.
func (s *CredentialSealer) Seal(accountEmail, password string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, []byte(password), associatedData(accountEmail)), nil
}

// Open reverses Seal. It fails if the value was sealed for a different account or key.
func (s *CredentialSealer) Open(accountEmail string, sealed []byte) (string, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("sealed credential too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, associatedData(accountEmail))
	if err != nil {
		return "", fmt.Errorf("failed to open credential: %w", err)
	}

	return string(plaintext), nil
}

func associatedData(accountEmail string) []byte {
	return []byte("mailchat-account:" + strings.ToLower(accountEmail))
}
