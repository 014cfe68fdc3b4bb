package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Store keeps opaque session tokens in redis with a sliding TTL. Tokens map
// to user ids; everything else about the user is loaded from the database
// per request so permission edits take effect immediately.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(token string) string {
	return "session:" + token
}

// Create issues a fresh token for the user.
func (s *Store) Create(ctx context.Context, userID uuid.UUID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := s.client.Set(ctx, key(token), userID.String(), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	return token, nil
}

// Get resolves a token to a user id and refreshes its TTL. Returns
// uuid.Nil with no error for an unknown or expired token.
func (s *Store) Get(ctx context.Context, token string) (uuid.UUID, error) {
	value, err := s.client.Get(ctx, key(token)).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up session: %w", err)
	}

	userID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt session value: %w", err)
	}

	// Sliding expiry; losing the race on a just-expired key is harmless.
	_ = s.client.Expire(ctx, key(token), s.ttl).Err()

	return userID, nil
}

// Delete drops a session (logout).
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, key(token)).Err()
}
