package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/authkit/oauthengine/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists an access token record with a TTL derived from
// its expiry.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("access token must not be empty")
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("access token already expired")
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.accessKey(token.Token)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token",
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength),
		"ttl", ttl)
	return nil
}

// GetAccessToken retrieves an access token record.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.accessKey(token)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("access token: %w", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var j accessTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	return fromAccessTokenJSON(&j), nil
}

// DeleteAccessToken removes an access token record.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.accessKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// SaveRefreshToken persists a refresh token record with a TTL derived from
// its expiry.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token must not be empty")
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("refresh token already expired")
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.refreshKey(token.Token)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength),
		"family_id", safeTruncate(token.FamilyID, tokenIDLogLength),
		"generation", token.Generation,
		"ttl", ttl)
	return nil
}

// ConsumeRefreshToken atomically retrieves and deletes a refresh token via
// GETDEL. Once rotated, any replay of the old token observes a nil reply,
// which may indicate token theft.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.refreshKey(token)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("refresh token: %w", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	rec := fromRefreshTokenJSON(&j)

	// Leave a tombstone until the original expiry so a replay of the
	// rotated token is recognizable as reuse rather than a plain miss.
	if ttl := calculateTTL(rec.ExpiresAt); ttl > 0 {
		if err := s.client.Do(ctx,
			s.client.B().Set().Key(s.rotatedKey(token)).Value(data).Ex(ttl).Build(),
		).Error(); err != nil {
			s.logger.Warn("Failed to record rotation tombstone",
				"token_prefix", safeTruncate(token, tokenIDLogLength),
				"error", err)
		}
	}

	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("refresh token: %w", storage.ErrExpired)
	}

	s.logger.Debug("Consumed refresh token",
		"token_prefix", safeTruncate(token, tokenIDLogLength),
		"family_id", safeTruncate(rec.FamilyID, tokenIDLogLength),
		"generation", rec.Generation)
	return rec, nil
}

// GetRotatedRefreshToken retrieves the tombstone of a rotated refresh token.
func (s *Store) GetRotatedRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.rotatedKey(token)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("rotated refresh token: %w", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rotated refresh token: %w", err)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rotated refresh token: %w", err)
	}
	return fromRefreshTokenJSON(&j), nil
}
