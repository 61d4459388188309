package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/storage"
)

// tokenIDLogLength is the number of characters logged from a code or token
const tokenIDLogLength = 8

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	users         map[string]*storage.User

	instrumentation *instrumentation.Instrumentation

	// read lock-free by the size gauges
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	clientsCount       atomic.Int64

	logger *slog.Logger
}

var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.UserWriter  = (*Store)(nil)
	_ storage.Sweeper     = (*Store)(nil)
)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		clients:       make(map[string]*storage.Client),
		codes:         make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		users:         make(map[string]*storage.User),
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans, operation metrics and size gauges
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.syncCounters()
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		s.codesCount.Load,
		s.accessTokensCount.Load,
		s.refreshTokensCount.Load,
		s.clientsCount.Load,
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// syncCounters refreshes the gauge counters. Caller holds mu.
func (s *Store) syncCounters() {
	s.codesCount.Store(int64(len(s.codes)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.clientsCount.Store(int64(len(s.clients)))
}

// ============================================================
// ClientStore Implementation
// ============================================================

// FindActiveClient returns an active client by ID
func (s *Store) FindActiveClient(ctx context.Context, clientID string) (c *storage.Client, err error) {
	_, done := s.startOperation(ctx, "find_active_client")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok || !client.Active {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(client), nil
}

// SaveClient inserts or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.startOperation(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ID] = cloneClient(client)
	s.clientsCount.Store(int64(len(s.clients)))
	s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// DeactivateClient marks a client inactive
func (s *Store) DeactivateClient(ctx context.Context, clientID string) (err error) {
	_, done := s.startOperation(ctx, "deactivate_client")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return storage.ErrClientNotFound
	}
	client.Active = false
	return nil
}

// ListClients returns all clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, cloneClient(c))
	}
	slices.SortFunc(clients, func(a, b *storage.Client) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.startOperation(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = cloneCode(code)
	s.codesCount.Store(int64(len(s.codes)))
	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// FindValidAuthorizationCode returns an unexpired code bound to clientID and redirectURI
func (s *Store) FindValidAuthorizationCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (c *storage.AuthorizationCode, err error) {
	_, done := s.startOperation(ctx, "find_valid_authorization_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ac, ok := s.codes[code]
	if !ok || ac.ClientID != clientID || ac.RedirectURI != redirectURI || !storage.IsValidAt(ac.ExpiresAt, now) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return cloneCode(ac), nil
}

// ConsumeAuthorizationCode atomically deletes and returns a still-valid code
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (c *storage.AuthorizationCode, err error) {
	_, done := s.startOperation(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock() // check and delete under one write lock
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok || !storage.IsValidAt(ac.ExpiresAt, now) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	delete(s.codes, code)
	s.codesCount.Store(int64(len(s.codes)))

	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return cloneCode(ac), nil
}

// DeleteAuthorizationCode removes a code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	s.codesCount.Store(int64(len(s.codes)))
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken stores an access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	_, done := s.startOperation(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[token.Token] = cloneAccessToken(token)
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// FindValidAccessToken returns an unexpired access token
func (s *Store) FindValidAccessToken(ctx context.Context, token string, now time.Time) (t *storage.AccessToken, err error) {
	_, done := s.startOperation(ctx, "find_valid_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.accessTokens[token]
	if !ok || !storage.IsValidAt(at.ExpiresAt, now) {
		return nil, storage.ErrTokenNotFound
	}
	return cloneAccessToken(at), nil
}

// GetAccessToken returns an access token regardless of expiry
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneAccessToken(at), nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// SaveRefreshToken stores a refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	_, done := s.startOperation(ctx, "save_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rt := *token
	s.refreshTokens[token.Token] = &rt
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// FindValidRefreshToken returns an unexpired refresh token owned by clientID
func (s *Store) FindValidRefreshToken(ctx context.Context, token, clientID string, now time.Time) (t *storage.RefreshToken, err error) {
	_, done := s.startOperation(ctx, "find_valid_refresh_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[token]
	if !ok || rt.ClientID != clientID || !storage.IsValidAt(rt.ExpiresAt, now) {
		return nil, storage.ErrTokenNotFound
	}
	cp := *rt
	return &cp, nil
}

// GetRefreshToken returns a refresh token regardless of expiry
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	cp := *rt
	return &cp, nil
}

// ConsumeRefreshToken atomically deletes and returns a still-valid refresh token
func (s *Store) ConsumeRefreshToken(ctx context.Context, token, clientID string, now time.Time) (t *storage.RefreshToken, err error) {
	_, done := s.startOperation(ctx, "consume_refresh_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok || rt.ClientID != clientID || !storage.IsValidAt(rt.ExpiresAt, now) {
		return nil, storage.ErrTokenNotFound
	}
	delete(s.refreshTokens, token)
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))

	s.logger.Debug("Consumed refresh token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	cp := *rt
	return &cp, nil
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// GetUser returns a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// SaveUser inserts or replaces a user
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// ============================================================
// Sweeper Implementation
// ============================================================

// DeleteExpired removes codes and tokens expired at now. Expired access
// tokens referenced by a valid refresh token are kept.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (n int, err error) {
	_, done := s.startOperation(ctx, "delete_expired")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.codes {
		if !storage.IsValidAt(v.ExpiresAt, now) {
			delete(s.codes, k)
			n++
		}
	}
	referenced := make(map[string]struct{}, len(s.refreshTokens))
	for k, v := range s.refreshTokens {
		if !storage.IsValidAt(v.ExpiresAt, now) {
			delete(s.refreshTokens, k)
			n++
			continue
		}
		referenced[v.AccessToken] = struct{}{}
	}
	// rotation reads scopes from the sibling access token
	for k, v := range s.accessTokens {
		if _, ok := referenced[k]; ok {
			continue
		}
		if !storage.IsValidAt(v.ExpiresAt, now) {
			delete(s.accessTokens, k)
			n++
		}
	}
	s.syncCounters()

	return n, nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startOperation(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.instrumentation.StartStorageOperation(ctx, "memory", operation, storage.OperationResult)
}

func cloneClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.SecretHash = slices.Clone(c.SecretHash)
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

func cloneCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

func cloneAccessToken(t *storage.AccessToken) *storage.AccessToken {
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	return &cp
}
