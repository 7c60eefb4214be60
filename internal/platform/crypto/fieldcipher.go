// Package crypto provides field-level encryption for sensitive registry data
// (DPoP public keys at rest, key material embedded in token claims).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	dErrors "authed/pkg/domain-errors"
)

// FieldCipher encrypts individual fields with AES-256-GCM. Ciphertexts are
// base64url strings of nonce||sealed so they store cleanly in TEXT columns
// and JWT claims.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from a base64-encoded 32-byte key, as
// distributed through REGISTRY_ENCRYPTION_KEY / DB_ENCRYPTION_KEY.
func NewFieldCipher(encodedKey string) (*FieldCipher, error) {
	if encodedKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "encryption key is required")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		// Accept url-safe encoding too; operators paste keys from both.
		key, err = base64.URLEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "encryption key is not valid base64")
		}
	}
	if len(key) != 32 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "encryption key must decode to 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// GenerateKey returns a fresh base64-encoded 256-bit key. Used by the CLI and
// by development startup when no key is configured.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// EncryptField seals a plaintext field. Each call uses a fresh nonce, so
// encrypting the same value twice yields different ciphertexts.
func (c *FieldCipher) EncryptField(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptField opens a ciphertext produced by EncryptField.
func (c *FieldCipher) DecryptField(encoded string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "ciphertext is not valid base64")
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "ciphertext too short")
	}
	nonce, body := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "ciphertext authentication failed")
	}
	return string(plaintext), nil
}
