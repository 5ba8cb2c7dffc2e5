package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/storage"
)

// SaveKey persists a stored key, replacing any previous entry for the same
// pubkey.
func (s *SQLiteStore) SaveKey(ctx context.Context, key *models.StoredKey) error {
	if key.CreatedAt == 0 {
		key.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stored_keys (pubkey, encrypted_secret, created_at, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			encrypted_secret = excluded.encrypted_secret,
			last_used = excluded.last_used`,
		key.Pubkey, key.EncryptedSecret, key.CreatedAt, key.LastUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	return nil
}

// GetKey retrieves a stored key by pubkey.
func (s *SQLiteStore) GetKey(ctx context.Context, pubkey string) (*models.StoredKey, error) {
	key := &models.StoredKey{}
	err := s.db.QueryRowContext(ctx,
		"SELECT pubkey, encrypted_secret, created_at, last_used FROM stored_keys WHERE pubkey = ?",
		pubkey,
	).Scan(&key.Pubkey, &key.EncryptedSecret, &key.CreatedAt, &key.LastUsed)
	if err == sql.ErrNoRows {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return key, nil
}

// ListKeys returns all stored keys, most recently created first.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]*models.StoredKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pubkey, encrypted_secret, created_at, last_used FROM stored_keys ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.StoredKey
	for rows.Next() {
		key := &models.StoredKey{}
		if err := rows.Scan(&key.Pubkey, &key.EncryptedSecret, &key.CreatedAt, &key.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// TouchKey updates a key's last-used timestamp.
func (s *SQLiteStore) TouchKey(ctx context.Context, pubkey string, lastUsed int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE stored_keys SET last_used = ? WHERE pubkey = ?",
		lastUsed, pubkey,
	)
	if err != nil {
		return fmt.Errorf("failed to touch key: %w", err)
	}
	return checkAffected(res, storage.ErrKeyNotFound)
}
