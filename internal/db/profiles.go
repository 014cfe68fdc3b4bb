package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vocaldesk/vocaldesk/internal/models"
)

func (db *DB) CreateProfile(ctx context.Context, profile *models.VoiceProfile) error {
	query := `
		INSERT INTO voice_profiles (name, model, voice, format, style_hint, speed, pitch, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		profile.Name, profile.Model, profile.Voice, profile.Format,
		profile.StyleHint, profile.Speed, profile.Pitch, profile.Volume,
	).Scan(&profile.ID, &profile.CreatedAt, &profile.UpdatedAt)
}

func (db *DB) GetProfile(ctx context.Context, id int64) (*models.VoiceProfile, error) {
	query := `
		SELECT id, name, model, voice, format, style_hint, speed, pitch, volume, created_at, updated_at
		FROM voice_profiles
		WHERE id = $1
	`

	profile := &models.VoiceProfile{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID, &profile.Name, &profile.Model, &profile.Voice, &profile.Format,
		&profile.StyleHint, &profile.Speed, &profile.Pitch, &profile.Volume,
		&profile.CreatedAt, &profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("voice profile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voice profile: %w", err)
	}

	return profile, nil
}

// ListProfiles returns all voice profiles ordered by name.
func (db *DB) ListProfiles(ctx context.Context) ([]models.VoiceProfile, error) {
	query := `
		SELECT id, name, model, voice, format, style_hint, speed, pitch, volume, created_at, updated_at
		FROM voice_profiles
		ORDER BY name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.VoiceProfile
	for rows.Next() {
		var p models.VoiceProfile
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Model, &p.Voice, &p.Format,
			&p.StyleHint, &p.Speed, &p.Pitch, &p.Volume, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan voice profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

func (db *DB) UpdateProfile(ctx context.Context, profile *models.VoiceProfile) error {
	query := `
		UPDATE voice_profiles
		SET name = $1, model = $2, voice = $3, format = $4,
		    style_hint = $5, speed = $6, pitch = $7, volume = $8, updated_at = now()
		WHERE id = $9
		RETURNING updated_at
	`

	err := db.QueryRowContext(
		ctx, query,
		profile.Name, profile.Model, profile.Voice, profile.Format,
		profile.StyleHint, profile.Speed, profile.Pitch, profile.Volume, profile.ID,
	).Scan(&profile.UpdatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("voice profile %d: %w", profile.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update voice profile: %w", err)
	}
	return nil
}

func (db *DB) DeleteProfile(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM voice_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete voice profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("voice profile %d: %w", id, ErrNotFound)
	}
	return nil
}
