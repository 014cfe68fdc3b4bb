package db

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vocaldesk/vocaldesk/internal/models"
)

// NewSalt returns a fresh random salt for password hashing.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashPassword derives the stored hash from a salt and a plaintext password.
func HashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a plaintext password against a stored user record
// in constant time.
func VerifyPassword(user *models.User, password string) bool {
	expected := HashPassword(user.PasswordSalt, password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(user.PasswordHash)) == 1
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, password_salt, permissions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		user.ID, user.Email, user.PasswordHash, user.PasswordSalt,
		user.Permissions&models.PermissionMask,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return db.getUser(ctx, `WHERE id = $1`, id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, `WHERE email = $1`, email)
}

func (db *DB) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, password_salt, permissions, created_at, updated_at
		FROM users ` + where

	user := &models.User{}
	err := db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.PasswordSalt,
		&user.Permissions, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT id, email, password_hash, password_salt, permissions, created_at, updated_at
		FROM users
		ORDER BY email
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.PasswordHash, &u.PasswordSalt,
			&u.Permissions, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateUserPermissions replaces a user's 20-bit permission vector.
func (db *DB) UpdateUserPermissions(ctx context.Context, id uuid.UUID, permissions int) error {
	query := `UPDATE users SET permissions = $1, updated_at = now() WHERE id = $2`
	result, err := db.ExecContext(ctx, query, permissions&models.PermissionMask, id)
	if err != nil {
		return fmt.Errorf("failed to update permissions: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetUserPassword stores a new salt and hash for the user.
func (db *DB) SetUserPassword(ctx context.Context, id uuid.UUID, password string) error {
	salt, err := NewSalt()
	if err != nil {
		return err
	}

	query := `UPDATE users SET password_hash = $1, password_salt = $2, updated_at = now() WHERE id = $3`
	result, err := db.ExecContext(ctx, query, HashPassword(salt, password), salt, id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) DeleteUser(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreatePasswordReset issues a single-use reset token for the user.
func (db *DB) CreatePasswordReset(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*models.PasswordReset, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate reset token: %w", err)
	}

	reset := &models.PasswordReset{
		Token:     hex.EncodeToString(buf),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}

	query := `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	if err := db.QueryRowContext(ctx, query, reset.Token, reset.UserID, reset.ExpiresAt).Scan(&reset.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create password reset: %w", err)
	}

	return reset, nil
}

// ConsumePasswordReset validates a token and marks it used, returning the
// owning user id. An expired or already-used token maps to ErrNotFound so
// the caller cannot distinguish it from an unknown one.
func (db *DB) ConsumePasswordReset(ctx context.Context, token string) (uuid.UUID, error) {
	query := `
		UPDATE password_resets
		SET used_at = now()
		WHERE token = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING user_id
	`

	var userID uuid.UUID
	err := db.QueryRowContext(ctx, query, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("password reset token: %w", ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to consume password reset: %w", err)
	}

	return userID, nil
}
