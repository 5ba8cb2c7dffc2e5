// Package auth issues and validates short-lived unlock sessions. A session
// proves the vault password was entered recently; it never carries the
// password or any key material.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satsplit/satsplit/internal/keyvault"
	"github.com/satsplit/satsplit/internal/storage"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// SessionTTL is the default unlock session lifetime.
const SessionTTL = 5 * time.Minute

// SessionManager handles unlock token generation and validation.
type SessionManager struct {
	store     storage.Store
	secretKey []byte
	ttl       time.Duration
}

// Claims are the custom JWT claims for an unlock session.
type Claims struct {
	Pubkey string `json:"pubkey"`
	jwt.RegisteredClaims
}

// NewSessionManager creates a session manager. secretKey should be a strong
// random string.
func NewSessionManager(store storage.Store, secretKey string, ttl time.Duration) *SessionManager {
	if ttl == 0 {
		ttl = SessionTTL
	}
	return &SessionManager{store: store, secretKey: []byte(secretKey), ttl: ttl}
}

// Unlock verifies the password against the stored key's encrypted secret
// and, on success, issues a session token bound to the pubkey. A wrong
// password and a missing key are both unlock failures.
func (m *SessionManager) Unlock(ctx context.Context, pubkey, password string) (string, error) {
	stored, err := m.store.GetKey(ctx, pubkey)
	if err != nil {
		return "", err
	}
	if err := keyvault.Verify(stored.EncryptedSecret, password); err != nil {
		return "", err
	}
	return m.generate(pubkey)
}

func (m *SessionManager) generate(pubkey string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Pubkey: pubkey,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Validate parses and validates a session token, returning the claims if
// valid.
func (m *SessionManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
