package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satsplit/satsplit/internal/models"
)

// AddAuditEntry appends one audit record. The assigned row id and timestamp
// are written back into the entry.
func (s *SQLiteStore) AddAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	details := "{}"
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = string(raw)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log (action, receipt_id, event_id, created_at, details) VALUES (?, ?, ?, ?, ?)",
		entry.Action, entry.ReceiptID, entry.EventID, entry.CreatedAt, details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAuditEntries returns a receipt's audit trail, oldest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, receiptID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, receipt_id, event_id, created_at, details FROM audit_log WHERE receipt_id = ? ORDER BY id",
		receiptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var details string
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.ReceiptID, &entry.EventID, &entry.CreatedAt, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
