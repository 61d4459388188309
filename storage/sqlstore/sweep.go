package sqlstore

import (
	"context"
	"fmt"
	"time"
)

// DeleteExpired removes codes and tokens whose expiry is at or before now.
// An expired access token is kept while its refresh token is still valid.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (n int, err error) {
	ctx, done := s.startOperation(ctx, "delete_expired")
	defer func() { done(err) }()

	cutoff := toMillis(now)
	queries := []struct {
		table string
		query string
		args  []any
	}{
		{"oauth_authorization_codes", "DELETE FROM oauth_authorization_codes WHERE expires_at <= ?", []any{cutoff}},
		{"oauth_refresh_tokens", "DELETE FROM oauth_refresh_tokens WHERE expires_at <= ?", []any{cutoff}},
		{"oauth_access_tokens", "DELETE FROM oauth_access_tokens WHERE expires_at <= ? AND token NOT IN " +
			"(SELECT access_token FROM oauth_refresh_tokens WHERE expires_at > ?)", []any{cutoff, cutoff}},
	}
	for _, q := range queries {
		res, err := s.exec(ctx, q.query, q.args...)
		if err != nil {
			return n, fmt.Errorf("delete expired from %s: %w", q.table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, fmt.Errorf("delete expired from %s: %w", q.table, err)
		}
		n += int(affected)
	}
	return n, nil
}
