// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authkit/oauthengine/instrumentation"
	"github.com/authkit/oauthengine/storage"
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, TransactionStore, CodeStore, TokenStore,
// and TokenRevocationStore.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	transactions  map[string]*storage.Transaction
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// rotatedRefresh holds tombstones for rotated refresh tokens so that
	// presentation of a rotated token is recognizable as reuse. Entries
	// live until the original token's expiry.
	rotatedRefresh map[string]*storage.RefreshToken

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	transactionsCountAtomic  atomic.Int64
	codesCountAtomic         atomic.Int64
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore          = (*Store)(nil)
	_ storage.TransactionStore     = (*Store)(nil)
	_ storage.CodeStore            = (*Store)(nil)
	_ storage.TokenStore           = (*Store)(nil)
	_ storage.RotatedTokenStore    = (*Store)(nil)
	_ storage.TokenRevocationStore = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		transactions:    make(map[string]*storage.Transaction),
		codes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		rotatedRefresh:  make(map[string]*storage.RefreshToken),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.transactionsCountAtomic.Store(int64(len(s.transactions)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.mu.Unlock()

	if inst != nil {
		// Size gauges feed capacity planning and leak detection
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.transactionsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient registers a client. Registration normally happens upstream;
// this exists so the memory store can back development and test deployments.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
		return nil, err
	}
	return client, nil
}

// ============================================================
// TransactionStore Implementation
// ============================================================

// Save persists an authorization transaction
func (s *Store) Save(ctx context.Context, tx *storage.Transaction) error {
	ctx, span := s.startStorageSpan(ctx, "save_transaction")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_transaction", err, startTime)
	}()

	if tx == nil || tx.ID == "" {
		err = fmt.Errorf("transaction must have an ID")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.transactions[tx.ID]
	s.transactions[tx.ID] = tx
	if !existed {
		s.transactionsCountAtomic.Add(1)
	}
	return nil
}

// Get retrieves a transaction without consuming it
func (s *Store) Get(ctx context.Context, id string) (*storage.Transaction, error) {
	ctx, span := s.startStorageSpan(ctx, "get_transaction")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_transaction", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Expired() {
		err = fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
		return nil, err
	}
	return tx, nil
}

// Consume atomically retrieves and deletes a transaction. Exactly one of any
// number of concurrent Consume calls for the same ID succeeds.
func (s *Store) Consume(ctx context.Context, id string) (*storage.Transaction, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_transaction")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_transaction", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		err = fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
		return nil, err
	}

	delete(s.transactions, id)
	s.transactionsCountAtomic.Add(-1)

	if tx.Expired() {
		err = fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
		return nil, err
	}
	return tx, nil
}

// Delete removes a transaction
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; ok {
		delete(s.transactions, id)
		s.transactionsCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveCode persists an authorization code
func (s *Store) SaveCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code must not be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.codes[code.Code]
	s.codes[code.Code] = code
	if !existed {
		s.codesCountAtomic.Add(1)
	}
	return nil
}

// ConsumeCode atomically checks the code is unredeemed and marks it redeemed.
// The record is kept until expiry sweep so that reuse is detectable.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.codes[code]
	if !ok {
		err = fmt.Errorf("authorization code: %w", storage.ErrNotFound)
		return nil, err
	}
	if rec.Redeemed {
		err = storage.ErrRedeemed
		return rec, err
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		err = fmt.Errorf("authorization code: %w", storage.ErrExpired)
		return nil, err
	}

	rec.Redeemed = true
	return rec, nil
}

// DeleteCode removes an authorization code
func (s *Store) DeleteCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; ok {
		delete(s.codes, code)
		s.codesCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists an access token record
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("access token must not be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.accessTokens[token.Token]
	s.accessTokens[token.Token] = token
	if !existed {
		s.accessTokensCountAtomic.Add(1)
	}
	return nil
}

// GetAccessToken retrieves an access token record
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_access_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.accessTokens[token]
	if !ok {
		err = fmt.Errorf("access token: %w", storage.ErrNotFound)
		return nil, err
	}
	return rec, nil
}

// DeleteAccessToken removes an access token record
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[token]; ok {
		delete(s.accessTokens, token)
		s.accessTokensCountAtomic.Add(-1)
	}
	return nil
}

// SaveRefreshToken persists a refresh token record
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("refresh token must not be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.refreshTokens[token.Token]
	s.refreshTokens[token.Token] = token
	if !existed {
		s.refreshTokensCountAtomic.Add(1)
	}
	return nil
}

// ConsumeRefreshToken atomically retrieves and deletes a refresh token.
// This is the rotation primitive.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refreshTokens[token]
	if !ok {
		err = fmt.Errorf("refresh token: %w", storage.ErrNotFound)
		return nil, err
	}

	delete(s.refreshTokens, token)
	s.refreshTokensCountAtomic.Add(-1)
	s.rotatedRefresh[token] = rec

	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		err = fmt.Errorf("refresh token: %w", storage.ErrExpired)
		return nil, err
	}
	return rec, nil
}

// GetRotatedRefreshToken retrieves the tombstone of a rotated refresh token.
func (s *Store) GetRotatedRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_rotated_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_rotated_refresh_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rotatedRefresh[token]
	if !ok {
		err = fmt.Errorf("rotated refresh token: %w", storage.ErrNotFound)
		return nil, err
	}
	return rec, nil
}

// ============================================================
// TokenRevocationStore Implementation
// ============================================================

// RevokeTokensForUserClient revokes all tokens for a user+client combination.
// Called when authorization code reuse is detected.
func (s *Store) RevokeTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_tokens_for_user_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_tokens_for_user_client", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for key, rec := range s.accessTokens {
		if rec.UserID == userID && rec.ClientID == clientID {
			delete(s.accessTokens, key)
			s.accessTokensCountAtomic.Add(-1)
			revoked++
		}
	}
	for key, rec := range s.refreshTokens {
		if rec.UserID == userID && rec.ClientID == clientID {
			delete(s.refreshTokens, key)
			s.refreshTokensCountAtomic.Add(-1)
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked tokens for user+client",
			"client_id", clientID,
			"revoked", revoked)
	}
	return revoked, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired transactions, codes, and tokens
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, tx := range s.transactions {
		if !tx.ExpiresAt.IsZero() && now.After(tx.ExpiresAt) {
			delete(s.transactions, id)
			s.transactionsCountAtomic.Add(-1)
			removed++
		}
	}
	for key, code := range s.codes {
		if !code.ExpiresAt.IsZero() && now.After(code.ExpiresAt) {
			delete(s.codes, key)
			s.codesCountAtomic.Add(-1)
			removed++
		}
	}
	for key, tok := range s.accessTokens {
		if !tok.ExpiresAt.IsZero() && now.After(tok.ExpiresAt) {
			delete(s.accessTokens, key)
			s.accessTokensCountAtomic.Add(-1)
			removed++
		}
	}
	for key, tok := range s.refreshTokens {
		if !tok.ExpiresAt.IsZero() && now.After(tok.ExpiresAt) {
			delete(s.refreshTokens, key)
			s.refreshTokensCountAtomic.Add(-1)
			removed++
		}
	}
	for key, tok := range s.rotatedRefresh {
		if !tok.ExpiresAt.IsZero() && now.After(tok.ExpiresAt) {
			delete(s.rotatedRefresh, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Swept expired records", "removed", removed)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))

	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
