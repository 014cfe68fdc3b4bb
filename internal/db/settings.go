package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vocaldesk/vocaldesk/internal/models"
)

// GetSMTPSettings returns the single stored SMTP configuration row.
func (db *DB) GetSMTPSettings(ctx context.Context) (*models.SMTPSettings, error) {
	query := `
		SELECT host, port, username, password, from_address, updated_at
		FROM smtp_settings
		WHERE id = 1
	`

	settings := &models.SMTPSettings{}
	err := db.QueryRowContext(ctx, query).Scan(
		&settings.Host, &settings.Port, &settings.Username,
		&settings.Password, &settings.FromAddress, &settings.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("smtp settings: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get smtp settings: %w", err)
	}

	return settings, nil
}

// SaveSMTPSettings upserts the single SMTP configuration row.
func (db *DB) SaveSMTPSettings(ctx context.Context, settings *models.SMTPSettings) error {
	query := `
		INSERT INTO smtp_settings (id, host, port, username, password, from_address, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			from_address = EXCLUDED.from_address,
			updated_at = now()
		RETURNING updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		settings.Host, settings.Port, settings.Username,
		settings.Password, settings.FromAddress,
	).Scan(&settings.UpdatedAt)
}
