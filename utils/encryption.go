package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	aesKeySize = 32 // 256 bits
	nonceSize  = 12 // GCM recommended nonce size
)

var (
	ErrInvalidKey       = errors.New("encryption key must be 32 bytes")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// AESCipher encrypts and decrypts strings with AES-256-GCM. It implements the
// models.Cipher collaborator; the key reference it reports is opaque to the
// engine and only travels alongside ciphertexts for later key rotation.
type AESCipher struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESCipher builds a cipher from 32 bytes of key material and an opaque key
// reference.
func NewAESCipher(key []byte, keyID string) (*AESCipher, error) {
	if len(key) != aesKeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &AESCipher{aead: aead, keyID: keyID}, nil
}

// Encrypt seals the plaintext with a random nonce and returns
// base64(nonce || ciphertext).
func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", ErrEncryptionFailed)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated ciphertexts fail
// authentication and are rejected.
func (c *AESCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", ErrDecryptionFailed)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short: %w", ErrDecryptionFailed)
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt content: %w", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// KeyID returns the opaque reference of the key this cipher was built with.
func (c *AESCipher) KeyID() string { return c.keyID }
