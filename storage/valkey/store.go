package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authserver:"

	// tokenIDLogLength is the number of characters logged from a code or token
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// minKeyTTL keeps keys whose expiry already passed on the server clock
	// around briefly instead of rejecting the write.
	minKeyTTL = time.Second

	// script results
	resultNotFound = "NOT_FOUND"
	resultExpired  = "EXPIRED"
	resultMismatch = "MISMATCH"
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authserver:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the storage interfaces.
type Store struct {
	client          valkeygo.Client
	prefix          string
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation

	// now is the server clock used for key TTLs
	now func() time.Time
}

var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.UserWriter  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans, operation metrics and the client count gauge.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallbacks(nil, nil, nil, s.clientCount); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) clientCount() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	n, err := s.client.Do(ctx, s.client.B().Zcard().Key(s.clientsKey()).Build()).AsInt64()
	if err != nil {
		s.logger.Debug("Failed to count clients", "error", err)
		return 0
	}
	return n
}

func (s *Store) startOperation(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.instrumentation.StartStorageOperation(ctx, "valkey", operation, storage.OperationResult)
}

// ttlUntil returns the key TTL for a row expiring at expiresAt.
func (s *Store) ttlUntil(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now())
	if ttl < minKeyTTL {
		return minKeyTTL
	}
	return ttl
}

// setJSON stores v under key with the given TTL. A zero TTL stores the key
// without expiry.
func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	cmd := s.client.B().Set().Key(key).Value(string(data))
	if ttl > 0 {
		return s.client.Do(ctx, cmd.PxMilliseconds(ttl.Milliseconds()).Build()).Error()
	}
	return s.client.Do(ctx, cmd.Build()).Error()
}

// getJSON loads key into v and maps a missing key to notFound.
func (s *Store) getJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return notFound
		}
		return err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, key string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error()
}

// evalConsume runs a consume script and decodes its payload into v. Script
// status results map to notFound.
func (s *Store) evalConsume(ctx context.Context, script string, key string, v any, notFound error, args ...string) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(script).
			Numkeys(1).
			Key(key).
			Arg(args...).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to execute consume script: %w", err)
	}

	switch result {
	case resultNotFound, resultExpired, resultMismatch:
		s.logger.Debug("Consume rejected", "reason", result)
		return notFound
	}

	if err := json.Unmarshal([]byte(result), v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ============================================================
// Key Helpers
// ============================================================

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) clientsKey() string {
	return s.prefix + "clients"
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) accessTokenKey(token string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, token)
}

func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, token)
}

func (s *Store) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaConsumeCode atomically checks and deletes an authorization code.
//
// KEYS[1] = code key
// ARGV[1] = current time in unix milliseconds
//
// Returns the stored JSON on success, otherwise NOT_FOUND or EXPIRED. An
// expired code is left in place for its TTL to remove.
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)
if tonumber(code.expires_at) <= tonumber(ARGV[1]) then
    return 'EXPIRED'
end

redis.call('DEL', KEYS[1])
return data
`

// luaConsumeRefreshToken atomically checks and deletes a refresh token.
//
// KEYS[1] = refresh token key
// ARGV[1] = current time in unix milliseconds
// ARGV[2] = client ID the token must belong to
//
// Returns the stored JSON on success, otherwise NOT_FOUND, MISMATCH or
// EXPIRED. A token presented by another client is not deleted.
const luaConsumeRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)
if token.client_id ~= ARGV[2] then
    return 'MISMATCH'
end
if tonumber(token.expires_at) <= tonumber(ARGV[1]) then
    return 'EXPIRED'
end

redis.call('DEL', KEYS[1])
return data
`

// luaSaveRefreshToken stores a refresh token and extends the TTL of its
// sibling access token to at least the refresh token's TTL.
//
// KEYS[1] = refresh token key
// KEYS[2] = sibling access token key
// ARGV[1] = refresh token JSON
// ARGV[2] = TTL in milliseconds
const luaSaveRefreshToken = `
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])

local pttl = redis.call('PTTL', KEYS[2])
if pttl >= 0 and pttl < tonumber(ARGV[2]) then
    redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 'OK'
`

// ============================================================
// JSON Serialization
// ============================================================

// Timestamps are unix milliseconds so the Lua scripts can compare them.

type clientJSON struct {
	ID            string   `json:"id"`
	SecretHash    string   `json:"secret_hash,omitempty"`
	Name          string   `json:"name"`
	RedirectURIs  []string `json:"redirect_uris"`
	Scopes        string   `json:"scopes"`
	AllowedOrigin string   `json:"allowed_origin,omitempty"`
	Active        bool     `json:"active"`
	CreatedAt     int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:            c.ID,
		SecretHash:    string(c.SecretHash),
		Name:          c.Name,
		RedirectURIs:  c.RedirectURIs,
		Scopes:        storage.JoinScopes(c.Scopes),
		AllowedOrigin: c.AllowedOrigin,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt.UnixMilli(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	c := &storage.Client{
		ID:            j.ID,
		Name:          j.Name,
		RedirectURIs:  j.RedirectURIs,
		Scopes:        storage.SplitScopes(j.Scopes),
		AllowedOrigin: j.AllowedOrigin,
		Active:        j.Active,
		CreatedAt:     time.UnixMilli(j.CreatedAt).UTC(),
	}
	if j.SecretHash != "" {
		c.SecretHash = []byte(j.SecretHash)
	}
	return c
}

type authorizationCodeJSON struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	UserID              string `json:"user_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scopes              string `json:"scopes"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

func toAuthorizationCodeJSON(c *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                c.Code,
		ClientID:            c.ClientID,
		UserID:              c.UserID,
		RedirectURI:         c.RedirectURI,
		Scopes:              storage.JoinScopes(c.Scopes),
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		CreatedAt:           c.CreatedAt.UnixMilli(),
		ExpiresAt:           c.ExpiresAt.UnixMilli(),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scopes:              storage.SplitScopes(j.Scopes),
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.UnixMilli(j.CreatedAt).UTC(),
		ExpiresAt:           time.UnixMilli(j.ExpiresAt).UTC(),
	}
}

type accessTokenJSON struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	UserID    string `json:"user_id"`
	Scopes    string `json:"scopes"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Scopes:    storage.JoinScopes(t.Scopes),
		CreatedAt: t.CreatedAt.UnixMilli(),
		ExpiresAt: t.ExpiresAt.UnixMilli(),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		Scopes:    storage.SplitScopes(j.Scopes),
		CreatedAt: time.UnixMilli(j.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(j.ExpiresAt).UTC(),
	}
}

type refreshTokenJSON struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:       t.Token,
		AccessToken: t.AccessToken,
		ClientID:    t.ClientID,
		UserID:      t.UserID,
		CreatedAt:   t.CreatedAt.UnixMilli(),
		ExpiresAt:   t.ExpiresAt.UnixMilli(),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:       j.Token,
		AccessToken: j.AccessToken,
		ClientID:    j.ClientID,
		UserID:      j.UserID,
		CreatedAt:   time.UnixMilli(j.CreatedAt).UTC(),
		ExpiresAt:   time.UnixMilli(j.ExpiresAt).UTC(),
	}
}
