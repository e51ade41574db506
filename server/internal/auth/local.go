package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"

	"github.com/vaultline/vaultline/server/internal/db"
)

const (
	// argon2Time is the number of iterations (time cost) for Argon2id.
	argon2Time = 2

	// argon2Memory is the memory cost in KiB for Argon2id (64 MiB).
	argon2Memory = 64 * 1024

	// argon2Threads is the parallelism factor for Argon2id.
	argon2Threads = 2

	// argon2KeyLen is the output hash length in bytes.
	argon2KeyLen = 32

	// argon2SaltLen is the random salt length in bytes.
	argon2SaltLen = 16
)

// CredentialStore persists and checks per-agent bearer-auth credentials.
// Kept alongside the teacher's Argon2id HashPassword/verifyPassword
// mechanics verbatim — the only thing this drops from LocalAuthProvider is
// the refresh-token/OIDC machinery, which has no role in agent-to-Controller
// auth (spec §4.10 issues a single bearer token per login, nothing rotates).
type CredentialStore struct {
	gdb *gorm.DB
}

func NewCredentialStore(gdb *gorm.DB) *CredentialStore {
	return &CredentialStore{gdb: gdb}
}

// Verify checks systemUUID/password against the stored Argon2id hash.
func (s *CredentialStore) Verify(ctx context.Context, systemUUID, password string) error {
	var cred db.AgentCredential
	err := s.gdb.WithContext(ctx).Where("system_uuid = ?", systemUUID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("auth: fetching credential: %w", err)
	}
	if !verifyPassword(password, cred.PasswordHash) {
		return ErrInvalidCredentials
	}
	return nil
}

// Set creates or replaces the stored password for systemUUID. Used by the
// seed CLI (cmd/seed) to provision agent credentials out of band.
func (s *CredentialStore) Set(ctx context.Context, systemUUID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	cred := db.AgentCredential{
		SystemUUID:   systemUUID,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	return s.gdb.WithContext(ctx).
		Save(&cred).Error
}

// HashPassword returns an Argon2id hash of the given plaintext password.
// Format: saltHex:hashHex
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating password salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// verifyPassword checks a plaintext password against a stored Argon2id hash.
func verifyPassword(password, stored string) bool {
	saltHex, hashHex, ok := splitHash(stored)
	if !ok {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expectedHash, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	actual := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(expectedHash)))

	return constantTimeEqual(actual, expectedHash)
}

// splitHash splits a "saltHex:hashHex" string into its two components.
func splitHash(s string) (salt, hash string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// constantTimeEqual compares two byte slices in constant time to prevent
// timing-based side-channel attacks.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
