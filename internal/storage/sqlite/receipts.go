package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/storage"
)

// SaveReceipt persists a new receipt and its participants in one transaction.
func (s *SQLiteStore) SaveReceipt(ctx context.Context, receipt *models.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	if receipt.CreatedAt == 0 {
		receipt.CreatedAt = time.Now().Unix()
	}
	if receipt.SyncStatus == "" {
		receipt.SyncStatus = models.SyncLocal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO receipts (
			id, request_id, created_at, amount_fiat, currency, amount_sats,
			fx_rate, fx_source, fx_timestamp, meal_type, flow,
			image_hash, image_uri, event_id, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID, receipt.RequestID, receipt.CreatedAt,
		receipt.AmountFiat, receipt.Currency, receipt.AmountSats,
		receipt.FxRate, receipt.FxSource, receipt.FxTimestamp,
		receipt.MealType, string(receipt.Flow),
		receipt.ImageHash, receipt.ImageURI, receipt.EventID,
		string(receipt.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	for i, p := range receipt.Participants {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO participants (receipt_id, pubkey, position, share_sats, paid_sats) VALUES (?, ?, ?, ?, ?)",
			receipt.ID, p.Pubkey, i, p.ShareSats, p.PaidSats,
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetReceipt retrieves a receipt by ID, participants included.
func (s *SQLiteStore) GetReceipt(ctx context.Context, id string) (*models.Receipt, error) {
	receipt, err := s.scanReceipt(s.db.QueryRowContext(ctx,
		`SELECT id, request_id, created_at, amount_fiat, currency, amount_sats,
			fx_rate, fx_source, fx_timestamp, meal_type, flow,
			image_hash, image_uri, event_id, sync_status
		FROM receipts WHERE id = ?`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, storage.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	if err := s.loadParticipants(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetAllReceipts returns every receipt with participants, most recent first.
func (s *SQLiteStore) GetAllReceipts(ctx context.Context) ([]*models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, created_at, amount_fiat, currency, amount_sats,
			fx_rate, fx_source, fx_timestamp, meal_type, flow,
			image_hash, image_uri, event_id, sync_status
		FROM receipts ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*models.Receipt
	for rows.Next() {
		receipt, err := s.scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}

	for _, receipt := range receipts {
		if err := s.loadParticipants(ctx, receipt); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

// UpdateReceiptStatus sets the sync status of an existing receipt.
func (s *SQLiteStore) UpdateReceiptStatus(ctx context.Context, id string, status models.SyncStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE receipts SET sync_status = ? WHERE id = ?",
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update receipt status: %w", err)
	}
	return checkAffected(res, storage.ErrReceiptNotFound)
}

// UpdateReceiptEventID records the published event id and marks the receipt
// published in the same statement.
func (s *SQLiteStore) UpdateReceiptEventID(ctx context.Context, id, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE receipts SET event_id = ?, sync_status = ? WHERE id = ?",
		eventID, string(models.SyncPublished), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update receipt event id: %w", err)
	}
	return checkAffected(res, storage.ErrReceiptNotFound)
}

// UpdateParticipantPayment sets a participant's paid amount.
func (s *SQLiteStore) UpdateParticipantPayment(ctx context.Context, receiptID, pubkey string, paidSats int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE participants SET paid_sats = ? WHERE receipt_id = ? AND pubkey = ?",
		paidSats, receiptID, pubkey,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant payment: %w", err)
	}
	return checkAffected(res, storage.ErrParticipantNotFound)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanReceipt(row scanner) (*models.Receipt, error) {
	receipt := &models.Receipt{}
	var flow, syncStatus string
	err := row.Scan(
		&receipt.ID, &receipt.RequestID, &receipt.CreatedAt,
		&receipt.AmountFiat, &receipt.Currency, &receipt.AmountSats,
		&receipt.FxRate, &receipt.FxSource, &receipt.FxTimestamp,
		&receipt.MealType, &flow,
		&receipt.ImageHash, &receipt.ImageURI, &receipt.EventID,
		&syncStatus,
	)
	if err != nil {
		return nil, err
	}
	receipt.Flow = models.FlowMode(flow)
	receipt.SyncStatus = models.SyncStatus(syncStatus)
	return receipt, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, receipt *models.Receipt) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pubkey, share_sats, paid_sats FROM participants WHERE receipt_id = ? ORDER BY position",
		receipt.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.Pubkey, &p.ShareSats, &p.PaidSats); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		receipt.Participants = append(receipt.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating participants: %w", err)
	}
	return nil
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
