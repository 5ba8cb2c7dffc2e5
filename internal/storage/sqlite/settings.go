package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/satsplit/satsplit/internal/models"
)

// GetSettings returns the persisted settings, or nil when none were saved.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM settings WHERE id = 1").Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings := &models.Settings{}
	if err := json.Unmarshal([]byte(data), settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings persists the settings as a single JSON row.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO settings (id, data) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
