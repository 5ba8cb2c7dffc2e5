package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveImage stores receipt image bytes under the given id, replacing any
// previous blob with that id.
func (s *SQLiteStore) SaveImage(ctx context.Context, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO images (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// GetImage retrieves stored image bytes.
func (s *SQLiteStore) GetImage(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM images WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("image not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return data, nil
}

// RenameImage re-keys a receipt's image to reference the published event id.
// The receipt's image_uri column is updated to match. A receipt without an
// image is a no-op.
func (s *SQLiteStore) RenameImage(ctx context.Context, receiptID, eventID string) error {
	receipt, err := s.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	if receipt.ImageURI == "" {
		return nil
	}

	newURI := "rcpt_" + eventID + ".png"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE images SET id = ? WHERE id = ?",
		newURI, receipt.ImageURI,
	); err != nil {
		return fmt.Errorf("failed to rename image: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE receipts SET image_uri = ? WHERE id = ?",
		newURI, receiptID,
	); err != nil {
		return fmt.Errorf("failed to update image uri: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
