package sqlstore

import (
	"encoding/json"
	"fmt"

	"github.com/giantswarm/oauth-authserver/storage"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ---- oauth_clients ----

const clientColumns = "id, secret_hash, name, redirect_uris, scopes, allowed_origin, active, created_at"

func clientArgs(c *storage.Client) ([]any, error) {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return nil, fmt.Errorf("encode redirect uris: %w", err)
	}
	return []any{
		c.ID,
		string(c.SecretHash),
		c.Name,
		string(uris),
		storage.JoinScopes(c.Scopes),
		c.AllowedOrigin,
		c.Active,
		toMillis(c.CreatedAt),
	}, nil
}

func scanClient(row scanner) (*storage.Client, error) {
	var (
		c          storage.Client
		secretHash string
		uris       string
		scopes     string
		createdAt  int64
	)
	if err := row.Scan(&c.ID, &secretHash, &c.Name, &uris, &scopes, &c.AllowedOrigin, &c.Active, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(uris), &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("decode redirect uris of client %s: %w", c.ID, err)
	}
	if secretHash != "" {
		c.SecretHash = []byte(secretHash)
	}
	c.Scopes = storage.SplitScopes(scopes)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// ---- oauth_authorization_codes ----

const codeColumns = "code, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, created_at, expires_at"

func codeArgs(c *storage.AuthorizationCode) []any {
	return []any{
		c.Code,
		c.ClientID,
		c.UserID,
		c.RedirectURI,
		storage.JoinScopes(c.Scopes),
		c.CodeChallenge,
		c.CodeChallengeMethod,
		toMillis(c.CreatedAt),
		toMillis(c.ExpiresAt),
	}
}

func scanCode(row scanner) (*storage.AuthorizationCode, error) {
	var (
		c                    storage.AuthorizationCode
		scopes               string
		createdAt, expiresAt int64
	)
	err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &scopes,
		&c.CodeChallenge, &c.CodeChallengeMethod, &createdAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	c.Scopes = storage.SplitScopes(scopes)
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	return &c, nil
}

// ---- oauth_access_tokens ----

const accessTokenColumns = "token, client_id, user_id, scopes, created_at, expires_at"

func accessTokenArgs(t *storage.AccessToken) []any {
	return []any{
		t.Token,
		t.ClientID,
		t.UserID,
		storage.JoinScopes(t.Scopes),
		toMillis(t.CreatedAt),
		toMillis(t.ExpiresAt),
	}
}

func scanAccessToken(row scanner) (*storage.AccessToken, error) {
	var (
		t                    storage.AccessToken
		scopes               string
		createdAt, expiresAt int64
	)
	if err := row.Scan(&t.Token, &t.ClientID, &t.UserID, &scopes, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	t.Scopes = storage.SplitScopes(scopes)
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	return &t, nil
}

// ---- oauth_refresh_tokens ----

const refreshTokenColumns = "token, access_token, client_id, user_id, created_at, expires_at"

func refreshTokenArgs(t *storage.RefreshToken) []any {
	return []any{
		t.Token,
		t.AccessToken,
		t.ClientID,
		t.UserID,
		toMillis(t.CreatedAt),
		toMillis(t.ExpiresAt),
	}
}

func scanRefreshToken(row scanner) (*storage.RefreshToken, error) {
	var (
		t                    storage.RefreshToken
		createdAt, expiresAt int64
	)
	if err := row.Scan(&t.Token, &t.AccessToken, &t.ClientID, &t.UserID, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	return &t, nil
}

// ---- oauth_users ----

const userColumns = "id, display_name, avatar_url, email, email_verified"

func userArgs(u *storage.User) []any {
	return []any{u.ID, u.DisplayName, u.AvatarURL, u.Email, u.EmailVerified}
}

func scanUser(row scanner) (*storage.User, error) {
	var u storage.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Email, &u.EmailVerified); err != nil {
		return nil, err
	}
	return &u, nil
}

// placeholders returns "?, ?, ..." for n columns.
func placeholders(n int) string {
	b := make([]byte, 0, 3*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
