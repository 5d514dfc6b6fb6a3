package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/authkit/oauthengine/storage"
)

// ============================================================
// TransactionStore Implementation
// ============================================================

// Save persists an authorization transaction with a TTL derived from its
// expiry. An already-expired transaction is rejected rather than stored.
func (s *Store) Save(ctx context.Context, tx *storage.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("transaction must have an ID")
	}

	ttl := calculateTTL(tx.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("transaction already expired")
	}

	data, err := json.Marshal(toTransactionJSON(tx))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	key := s.txKey(tx.ID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	s.logger.Debug("Saved authorization transaction",
		"transaction_prefix", safeTruncate(tx.ID, tokenIDLogLength),
		"ttl", ttl)
	return nil
}

// Get retrieves a transaction without consuming it.
func (s *Store) Get(ctx context.Context, id string) (*storage.Transaction, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.txKey(id)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	var j transactionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	tx := fromTransactionJSON(&j)

	// TTL should handle this, but double-check
	if tx.Expired() {
		return nil, fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
	}
	return tx, nil
}

// Consume atomically retrieves and deletes a transaction via GETDEL.
// Concurrent consumers of the same ID see exactly one winner; losers
// observe a nil reply.
func (s *Store) Consume(ctx context.Context, id string) (*storage.Transaction, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.txKey(id)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to consume transaction: %w", err)
	}

	var j transactionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	tx := fromTransactionJSON(&j)

	if !tx.ExpiresAt.IsZero() && time.Now().After(tx.ExpiresAt) {
		return nil, fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
	}

	s.logger.Debug("Consumed authorization transaction",
		"transaction_prefix", safeTruncate(id, tokenIDLogLength))
	return tx, nil
}

// Delete removes a transaction. Deleting an unknown ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.txKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}
