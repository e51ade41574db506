package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// accessTokenDuration is the default bearer-token lifetime (spec §4.10).
	accessTokenDuration = 30 * time.Minute

	rsaKeyBits = 2048
)

// Claims holds the bearer token's subject (system_uuid) and expiry.
// Simplified from the teacher's JWTManager, which also carried Email/Role
// for a multi-tenant GUI session — this token authenticates one agent to
// one Controller and needs nothing beyond identity and lifetime.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager handles RS256 signing and verification of bearer tokens.
type JWTManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	ttl        time.Duration
}

// NewJWTManagerGenerated creates a JWTManager with a freshly generated RSA
// key pair. Ephemeral by design for a single-Controller deployment: a
// restart invalidates all outstanding tokens, which is acceptable since
// agents re-authenticate via their reconnect loop (mirrors the agent
// side's own Run() retry behavior in channel/client.go).
func NewJWTManagerGenerated(issuer string, ttl time.Duration) (*JWTManager, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("auth: generating RSA key pair: %w", err)
	}
	if ttl <= 0 {
		ttl = accessTokenDuration
	}
	return &JWTManager{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		issuer:     issuer,
		ttl:        ttl,
	}, nil
}

// GenerateAccessToken creates a signed RS256 bearer token for systemUUID.
func (m *JWTManager) GenerateAccessToken(systemUUID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   systemUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: signing access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and verifies a bearer token string.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
