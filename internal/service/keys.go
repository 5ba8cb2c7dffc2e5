package service

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/satsplit/satsplit/internal/keyvault"
	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
	"github.com/satsplit/satsplit/internal/storage"
)

// KeyService manages the stored signing keys: generation, import, and
// listing. The plaintext secret exists only inside these calls.
type KeyService struct {
	store storage.Store
}

// NewKeyService creates a key service over the given store.
func NewKeyService(store storage.Store) *KeyService {
	return &KeyService{store: store}
}

// Generate creates a fresh signing key, encrypts it under the password, and
// persists it. Only the pubkey and the encrypted token survive the call.
func (s *KeyService) Generate(ctx context.Context, password string) (*models.StoredKey, error) {
	priv, err := nostr.GenerateKey()
	if err != nil {
		return nil, err
	}
	return s.seal(ctx, priv, password)
}

// Import encrypts an existing secret key (64-char hex) under the password
// and persists it.
func (s *KeyService) Import(ctx context.Context, secretHex, password string) (*models.StoredKey, error) {
	priv, err := nostr.ParseSecret(secretHex)
	if err != nil {
		return nil, err
	}
	return s.seal(ctx, priv, password)
}

// List returns all stored keys. Encrypted tokens are included; plaintext
// never is.
func (s *KeyService) List(ctx context.Context) ([]*models.StoredKey, error) {
	return s.store.ListKeys(ctx)
}

func (s *KeyService) seal(ctx context.Context, priv *btcec.PrivateKey, password string) (*models.StoredKey, error) {
	secret := []byte(nostr.SecretHex(priv))
	defer keyvault.Zero(secret)

	token, err := keyvault.Encrypt(secret, password)
	if err != nil {
		return nil, err
	}

	key := &models.StoredKey{
		Pubkey:          nostr.PublicKeyHex(priv),
		EncryptedSecret: token,
		CreatedAt:       time.Now().Unix(),
	}
	if err := s.store.SaveKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}
