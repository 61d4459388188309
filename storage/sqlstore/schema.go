package sqlstore

import (
	"context"
	"fmt"
)

// Column types shared by every dialect. Keys are VARCHAR so MySQL can index
// them; credential values are base64url and fit comfortably.
const (
	keyType  = "VARCHAR(255)"
	textType = "TEXT"
	timeType = "BIGINT"
	boolType = "BOOLEAN"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS oauth_clients (
		id ` + keyType + ` NOT NULL PRIMARY KEY,
		secret_hash ` + textType + ` NOT NULL,
		name ` + textType + ` NOT NULL,
		redirect_uris ` + textType + ` NOT NULL,
		scopes ` + textType + ` NOT NULL,
		allowed_origin ` + textType + ` NOT NULL,
		active ` + boolType + ` NOT NULL,
		created_at ` + timeType + ` NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
		code ` + keyType + ` NOT NULL PRIMARY KEY,
		client_id ` + keyType + ` NOT NULL,
		user_id ` + keyType + ` NOT NULL,
		redirect_uri ` + textType + ` NOT NULL,
		scopes ` + textType + ` NOT NULL,
		code_challenge ` + textType + ` NOT NULL,
		code_challenge_method ` + textType + ` NOT NULL,
		created_at ` + timeType + ` NOT NULL,
		expires_at ` + timeType + ` NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_access_tokens (
		token ` + keyType + ` NOT NULL PRIMARY KEY,
		client_id ` + keyType + ` NOT NULL,
		user_id ` + keyType + ` NOT NULL,
		scopes ` + textType + ` NOT NULL,
		created_at ` + timeType + ` NOT NULL,
		expires_at ` + timeType + ` NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
		token ` + keyType + ` NOT NULL PRIMARY KEY,
		access_token ` + keyType + ` NOT NULL,
		client_id ` + keyType + ` NOT NULL,
		user_id ` + keyType + ` NOT NULL,
		created_at ` + timeType + ` NOT NULL,
		expires_at ` + timeType + ` NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_users (
		id ` + keyType + ` NOT NULL PRIMARY KEY,
		display_name ` + textType + ` NOT NULL,
		avatar_url ` + textType + ` NOT NULL,
		email ` + textType + ` NOT NULL,
		email_verified ` + boolType + ` NOT NULL
	)`,
}

type index struct {
	name, table, column string
}

// The sweep deletes by expires_at.
var indexes = []index{
	{"idx_oauth_codes_expires_at", "oauth_authorization_codes", "expires_at"},
	{"idx_oauth_access_tokens_expires_at", "oauth_access_tokens", "expires_at"},
	{"idx_oauth_refresh_tokens_expires_at", "oauth_refresh_tokens", "expires_at"},
}

// Migrate creates the tables and indexes if they do not exist. It is safe to
// run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for _, idx := range indexes {
		if err := s.createIndex(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	s.logger.Info("Database schema is up to date", "dialect", s.dialect)
	return nil
}

func (s *Store) createIndex(ctx context.Context, idx index) error {
	if s.dialect != DialectMySQL {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, idx.table, idx.column))
		return err
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.statistics
		 WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
		idx.table, idx.name).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.column))
	return err
}
