// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/satsplit/satsplit/internal/models"
)

var (
	// ErrReceiptNotFound is returned when no receipt has the given id.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrParticipantNotFound is returned when a receipt has no participant
	// with the given pubkey.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrKeyNotFound is returned when no stored key matches the pubkey.
	ErrKeyNotFound = errors.New("stored key not found")
)

// Store defines the persistence contract the orchestrator depends on.
// Every call is atomic per record; the backing engine's single-record
// transaction guarantee is relied upon instead of application locking.
type Store interface {
	// SaveReceipt persists a new receipt with its participants. ID and
	// CreatedAt are populated when empty.
	SaveReceipt(ctx context.Context, receipt *models.Receipt) error

	// GetReceipt retrieves a receipt by id, participants included.
	GetReceipt(ctx context.Context, id string) (*models.Receipt, error)

	// GetAllReceipts returns every receipt, most recent first.
	GetAllReceipts(ctx context.Context) ([]*models.Receipt, error)

	// UpdateReceiptStatus sets the sync status of an existing receipt.
	UpdateReceiptStatus(ctx context.Context, id string, status models.SyncStatus) error

	// UpdateReceiptEventID attaches the published event id and flips the
	// sync status to published in one write.
	UpdateReceiptEventID(ctx context.Context, id, eventID string) error

	// UpdateParticipantPayment sets a participant's paid amount.
	UpdateParticipantPayment(ctx context.Context, receiptID, pubkey string, paidSats int64) error

	// SaveImage stores receipt image bytes under the given id.
	SaveImage(ctx context.Context, id string, data []byte) error

	// GetImage retrieves stored image bytes.
	GetImage(ctx context.Context, id string) ([]byte, error)

	// RenameImage re-keys a receipt's image to reference the published
	// event id.
	RenameImage(ctx context.Context, receiptID, eventID string) error

	// AddAuditEntry appends one audit record. Entries are never updated
	// or deleted.
	AddAuditEntry(ctx context.Context, entry *models.AuditEntry) error

	// ListAuditEntries returns a receipt's audit trail, oldest first.
	ListAuditEntries(ctx context.Context, receiptID string) ([]*models.AuditEntry, error)

	// SaveKey persists a stored key, replacing any previous entry for the
	// same pubkey.
	SaveKey(ctx context.Context, key *models.StoredKey) error

	// GetKey retrieves a stored key by pubkey.
	GetKey(ctx context.Context, pubkey string) (*models.StoredKey, error)

	// ListKeys returns all stored keys, most recently created first.
	ListKeys(ctx context.Context) ([]*models.StoredKey, error)

	// TouchKey updates a key's last-used timestamp.
	TouchKey(ctx context.Context, pubkey string, lastUsed int64) error

	// GetSettings returns the persisted settings, or nil when none exist.
	GetSettings(ctx context.Context) (*models.Settings, error)

	// SaveSettings persists the settings, replacing any previous value.
	SaveSettings(ctx context.Context, settings *models.Settings) error

	// Close releases any resources held by the store.
	Close() error
}
