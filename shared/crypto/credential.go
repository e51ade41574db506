// Package crypto implements the Credential Store (C1): authenticated
// symmetric encryption of sensitive fields at rest, keyed by a passphrase
// run through a password-based KDF.
//
// Grounded on the teacher's server/internal/db/encrypt.go GORM hook, but
// pulled out of the database layer into a standalone service object
// (per the "module-level singleton" re-architecture note) so both the
// Controller and the Agent can construct and inject one.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	keySize       = 32 // AES-256
	saltSize      = 16
)

// ErrNotInitialized is returned by CredentialStore operations before a key
// has been derived.
var ErrNotInitialized = errors.New("crypto: credential store key not derived")

// CredentialStore encrypts and decrypts the enumerated credential fields
// (password, aws_access_key_id, aws_secret_access_key, aws_session_token).
// It is constructed once at startup and passed by reference; it holds no
// package-level state.
type CredentialStore struct {
	key []byte
}

// DeriveKey runs passphrase through PBKDF2-SHA256 with the given salt to
// produce the 32-byte AES key. salt MUST be persisted per-installation
// (not a fixed constant — see SPEC_FULL.md §7 open question 4) so that
// decryption survives config rotation and process restarts.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keySize, sha256.New)
}

// NewCredentialStore constructs a CredentialStore from an already-derived
// 32-byte key.
func NewCredentialStore(key []byte) (*CredentialStore, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", keySize, len(key))
	}
	k := make([]byte, keySize)
	copy(k, key)
	return &CredentialStore{key: k}, nil
}

// NewSalt generates a fresh random salt suitable for DeriveKey. Call once
// per installation and persist the result.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns a self-describing base64 token: base64(nonce || ciphertext).
// Empty-string credentials are the caller's responsibility to skip per
// §4.1 — Encrypt itself always encrypts whatever it is given.
func (c *CredentialStore) Encrypt(plaintext string) (string, error) {
	if c == nil || c.key == nil {
		return "", ErrNotInitialized
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Tampered or foreign-key tokens fail with an
// error rather than returning garbage plaintext.
func (c *CredentialStore) Decrypt(token string) (string, error) {
	if c == nil || c.key == nil {
		return "", ErrNotInitialized
	}
	if token == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("crypto: decode token: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("crypto: token too short to contain nonce")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// CredentialFields is the closed, enumerated set of param keys subject to
// encryption before persistence and before normalize(params) (§3).
var CredentialFields = map[string]bool{
	"password":              true,
	"aws_access_key_id":     true,
	"aws_secret_access_key": true,
	"aws_session_token":     true,
}

// EncryptParams returns a copy of params with every credential field
// (§3, non-empty) replaced by its ciphertext token. Non-credential fields
// and empty-string credentials pass through unchanged.
func (c *CredentialStore) EncryptParams(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
		if !CredentialFields[k] {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		token, err := c.Encrypt(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: encrypt field %q: %w", k, err)
		}
		out[k] = token
	}
	return out, nil
}
