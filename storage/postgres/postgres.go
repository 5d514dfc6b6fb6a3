// Package postgres provides a PostgreSQL-backed ClientStore using
// database/sql with the pgx stdlib driver.
//
// Expected schema:
//
//	create table oauth_clients (
//	    id             text primary key,
//	    secret_hash    text not null default '',
//	    client_type    text not null default 'confidential',
//	    redirect_uris  jsonb not null default '[]',
//	    grant_types    jsonb not null default '[]',
//	    response_types jsonb not null default '[]',
//	    name           text not null default '',
//	    scopes         jsonb not null default '[]',
//	    created_at     timestamptz not null default now()
//	);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	// Registers the "pgx" driver for database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/authkit/oauthengine/storage"
)

// ClientStore implements storage.ClientStore backed by PostgreSQL.
// Clients change rarely and are managed by an upstream registration
// service; this store is read-mostly.
type ClientStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.ClientStore = (*ClientStore)(nil)

// Open connects to PostgreSQL with the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*ClientStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Connected to PostgreSQL client store")
	return &ClientStore{db: db, logger: logger}, nil
}

// NewClientStore wraps an existing *sql.DB. Useful for sharing a pool or
// for tests.
func NewClientStore(db *sql.DB, logger *slog.Logger) *ClientStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientStore{db: db, logger: logger}
}

// Close closes the underlying connection pool.
func (s *ClientStore) Close() error {
	return s.db.Close()
}

// GetClient retrieves a client by ID.
func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, secret_hash, client_type, redirect_uris, grant_types, response_types, name, scopes, created_at
		 from oauth_clients where id = $1`, clientID)

	var (
		client        storage.Client
		redirectURIs  []byte
		grantTypes    []byte
		responseTypes []byte
		scopes        []byte
	)
	if err := row.Scan(&client.ID, &client.SecretHash, &client.Type,
		&redirectURIs, &grantTypes, &responseTypes, &client.Name, &scopes, &client.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query client: %w", err)
	}

	if err := json.Unmarshal(redirectURIs, &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to decode redirect_uris: %w", err)
	}
	if err := json.Unmarshal(grantTypes, &client.GrantTypes); err != nil {
		return nil, fmt.Errorf("failed to decode grant_types: %w", err)
	}
	if err := json.Unmarshal(responseTypes, &client.ResponseTypes); err != nil {
		return nil, fmt.Errorf("failed to decode response_types: %w", err)
	}
	if err := json.Unmarshal(scopes, &client.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}

	return &client, nil
}

// SaveClient inserts or updates a client record. Provided for deployments
// that manage registrations through the same database.
func (s *ClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	redirectURIs, _ := json.Marshal(client.RedirectURIs)
	grantTypes, _ := json.Marshal(client.GrantTypes)
	responseTypes, _ := json.Marshal(client.ResponseTypes)
	scopes, _ := json.Marshal(client.Scopes)

	_, err := s.db.ExecContext(ctx,
		`insert into oauth_clients (id, secret_hash, client_type, redirect_uris, grant_types, response_types, name, scopes)
		 values ($1,$2,$3,$4,$5,$6,$7,$8)
		 on conflict (id) do update set
		   secret_hash = excluded.secret_hash,
		   client_type = excluded.client_type,
		   redirect_uris = excluded.redirect_uris,
		   grant_types = excluded.grant_types,
		   response_types = excluded.response_types,
		   name = excluded.name,
		   scopes = excluded.scopes`,
		client.ID, client.SecretHash, client.Type, redirectURIs, grantTypes, responseTypes, client.Name, scopes,
	)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}
