// Package fieldcrypt decrypts encrypted settings values.
//
// The host application stores secret settings fields in an envelope:
//
//	enc:v1:base64(salt || nonce || ciphertext)
//
// Ciphertext is AES-256-GCM; the key derives from a shared secret via
// scrypt with the per-value salt. The engine only ever decrypts, and
// decrypted values must never appear in logs or error details.
package fieldcrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	envelopePrefix = "enc:v1:"
	saltSize       = 16
	nonceSize      = 12
	keySize        = 32
)

// ErrNoKey is returned when an encrypted value arrives but no
// decryption key is configured.
var ErrNoKey = errors.New("encrypted value present but no settings key configured")

// Cipher is the decryption collaborator consumed by env resolution.
type Cipher interface {
	// IsEncryptedValue reports whether a stored value uses the envelope.
	IsEncryptedValue(value string) bool

	// DecryptField returns the plaintext for an enveloped value.
	// Plain values pass through unchanged.
	DecryptField(ctx context.Context, value string) (string, error)
}

// AESGCM implements Cipher with AES-256-GCM and scrypt key derivation.
type AESGCM struct {
	secret []byte
}

// New creates a cipher from the shared secret. An empty secret yields
// a disabled cipher that rejects encrypted values.
func New(secret string) Cipher {
	if secret == "" {
		return Disabled{}
	}
	return &AESGCM{secret: []byte(secret)}
}

// IsEncryptedValue reports whether the value carries the envelope prefix.
func (c *AESGCM) IsEncryptedValue(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

// DecryptField opens the envelope. Plain values pass through.
func (c *AESGCM) DecryptField(ctx context.Context, value string) (string, error) {
	if !c.IsEncryptedValue(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("malformed encrypted value: %w", err)
	}
	if len(raw) < saltSize+nonceSize+1 {
		return "", fmt.Errorf("malformed encrypted value: truncated envelope")
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ciphertext := raw[saltSize+nonceSize:]

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt settings value: %w", err)
	}
	return string(plaintext), nil
}

// EncryptField seals a plaintext into the envelope. Used by tests and
// seeding tools; the host application normally writes these values.
func (c *AESGCM) EncryptField(ctx context.Context, plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	envelope := make([]byte, 0, saltSize+nonceSize+len(sealed))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)

	return envelopePrefix + base64.StdEncoding.EncodeToString(envelope), nil
}

func (c *AESGCM) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(c.secret, salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Disabled rejects encrypted values; plain values pass through.
type Disabled struct{}

// IsEncryptedValue reports whether the value carries the envelope prefix.
func (Disabled) IsEncryptedValue(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

// DecryptField fails on enveloped values since no key is configured.
func (d Disabled) DecryptField(ctx context.Context, value string) (string, error) {
	if d.IsEncryptedValue(value) {
		return "", ErrNoKey
	}
	return value, nil
}
