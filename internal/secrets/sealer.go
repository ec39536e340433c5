package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Sealer encrypts credential material before it is persisted and decrypts it
// on the way back out. Stored scraper and account secrets never touch the
// database in the clear.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type aesSealer struct {
	aead cipher.AEAD
}

// NewSealer builds an AES-GCM sealer from a 16, 24 or 32 byte key.
func NewSealer(key []byte) (Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealer key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealer gcm: %w", err)
	}
	return &aesSealer{aead: aead}, nil
}

// SealerFromEnv builds a sealer from the base64-encoded CREDENTIAL_KEY
// environment variable.
func SealerFromEnv() (Sealer, error) {
	raw := strings.TrimSpace(os.Getenv("CREDENTIAL_KEY"))
	if raw == "" {
		return nil, fmt.Errorf("CREDENTIAL_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIAL_KEY is not valid base64: %w", err)
	}
	return NewSealer(key)
}

func (s *aesSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *aesSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, fmt.Errorf("sealed payload too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}

// SealString is a convenience wrapper for string-valued secrets.
func SealString(s Sealer, val string) ([]byte, error) {
	if val == "" {
		return nil, nil
	}
	return s.Seal([]byte(val))
}

// OpenString is the inverse of SealString.
func OpenString(s Sealer, sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	plain, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
