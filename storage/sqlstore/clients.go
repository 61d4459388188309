package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth-authserver/storage"
)

// FindActiveClient returns an active client by ID
func (s *Store) FindActiveClient(ctx context.Context, clientID string) (c *storage.Client, err error) {
	ctx, done := s.startOperation(ctx, "find_active_client")
	defer func() { done(err) }()

	row := s.queryRow(ctx, "SELECT "+clientColumns+" FROM oauth_clients WHERE id = ? AND active = ?", clientID, true)
	c, err = scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return c, nil
}

// SaveClient inserts or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.startOperation(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	args, err := clientArgs(client)
	if err != nil {
		return err
	}

	query := "INSERT INTO oauth_clients (" + clientColumns + ") VALUES (" + placeholders(8) + ") " +
		s.upsertClause("id", "secret_hash", "name", "redirect_uris", "scopes", "allowed_origin", "active")
	if _, err = s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// DeactivateClient marks a client inactive
func (s *Store) DeactivateClient(ctx context.Context, clientID string) (err error) {
	ctx, done := s.startOperation(ctx, "deactivate_client")
	defer func() { done(err) }()

	// MySQL reports zero affected rows when the value is unchanged, so
	// existence is checked separately.
	var exists int
	err = s.queryRow(ctx, "SELECT 1 FROM oauth_clients WHERE id = ?", clientID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrClientNotFound
	}
	if err != nil {
		return fmt.Errorf("deactivate client: %w", err)
	}

	if _, err = s.exec(ctx, "UPDATE oauth_clients SET active = ? WHERE id = ?", false, clientID); err != nil {
		return fmt.Errorf("deactivate client: %w", err)
	}
	return nil
}

// ListClients returns all clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) (clients []*storage.Client, err error) {
	ctx, done := s.startOperation(ctx, "list_clients")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM oauth_clients ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		clients = append(clients, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// upsertClause returns the dialect's conflict clause updating cols when key
// already exists.
func (s *Store) upsertClause(key string, cols ...string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		if s.dialect == DialectMySQL {
			sets[i] = c + " = VALUES(" + c + ")"
		} else {
			sets[i] = c + " = excluded." + c
		}
	}
	if s.dialect == DialectMySQL {
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return "ON CONFLICT (" + key + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
