// Package crypto provides AES-256-GCM authenticated encryption for sensitive
// values stored at rest in webhook documents, specifically the validation
// tokens that incoming webhooks compare against the caller's credential. A
// leaked token would let anyone fire the webhook's triggers, so tokens are
// never stored in the clear. AES-256-GCM provides both confidentiality and
// authenticated integrity, so a stored token cannot be silently tampered with
// even if the database is partially compromised.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const keySize = 32 // AES-256

var (
	// ErrKeyLengthInvalid reports a master key that is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted reports ciphertext that fails base64 decoding or
	// is too short to hold a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed reports failed GCM authentication: tampered data or
	// a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort reports a PBKDF2 salt under 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// TokenCipher seals and opens token values with a fixed master key. The AEAD
// is constructed once and reused; a TokenCipher is safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher around a 32-byte master key.
func NewTokenCipher(masterKey []byte) (*TokenCipher, error) {
	if len(masterKey) != keySize {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// DecodeKey decodes a base64-encoded 32-byte master key, the form keys take
// in configuration.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(key) != keySize {
		return nil, ErrKeyLengthInvalid
	}
	return key, nil
}

// DeriveTokenCipher builds a cipher from a passphrase via PBKDF2-SHA256.
// Iteration counts under 10000 are raised to 100000.
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000
	}
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	return NewTokenCipher(key)
}

// Seal encrypts plaintext under a fresh random nonce and returns the nonce
// and ciphertext together, base64url encoded. Empty input stays empty so
// webhooks without a token round-trip unchanged.
func (tc *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, tc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := tc.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal, authenticating the ciphertext in the process.
func (tc *TokenCipher) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}
	nonceLen := tc.aead.NonceSize()
	if len(sealed) < nonceLen {
		return "", ErrCiphertextCorrupted
	}
	plaintext, err := tc.aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey returns a random 32-byte master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt returns a random salt of at least 16 bytes.
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
