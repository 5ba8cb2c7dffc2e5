// Package keyvault encrypts the user's signing key at rest with a
// password-derived key.
//
// The scheme is PBKDF2-SHA256 (100,000 iterations) over the password plus a
// fixed application context string, salted with a fresh random 16-byte salt
// per encrypt call, feeding AES-256-GCM with a random 96-bit nonce. Salt,
// nonce and ciphertext are packed into a single base64 token.
//
// The vault is a stateless transform over caller-supplied bytes: it never
// persists the password or the decrypted secret, and callers must discard
// the plaintext immediately after signing.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000

	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// context domain-separates this app's key derivation from any other
	// use of the same password. Not secret.
	context = "satsplit-keyvault-v1"
)

// ErrDecryptionFailed covers both a wrong password and a tampered token.
// The two are indistinguishable by design.
var ErrDecryptionFailed = errors.New("decryption failed")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password+context), salt, Iterations, keySize, sha256.New)
}

// Encrypt seals secret under password and returns a transportable token.
// Each call uses a fresh salt and nonce, so derived key material is never
// reused across calls.
func Encrypt(secret []byte, password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to initialize GCM: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, secret, nil)

	token := make([]byte, 0, saltSize+nonceSize+len(sealed))
	token = append(token, salt...)
	token = append(token, nonce...)
	token = append(token, sealed...)
	return base64.StdEncoding.EncodeToString(token), nil
}

// Decrypt opens a token produced by Encrypt. It returns ErrDecryptionFailed
// on a wrong password or a corrupted token, without distinguishing which.
func Decrypt(token, password string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(raw) < saltSize+nonceSize {
		return nil, ErrDecryptionFailed
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	sealed := raw[saltSize+nonceSize:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	secret, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return secret, nil
}

// Verify checks the password against a token without returning the secret.
// Used by session unlock, where only the yes/no answer is needed.
func Verify(token, password string) error {
	secret, err := Decrypt(token, password)
	if err != nil {
		return err
	}
	Zero(secret)
	return nil
}

// Zero overwrites a transient secret in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
