package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-authserver/storage"
	"github.com/giantswarm/oauth-authserver/storage/storagetest"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set or the connection fails.
// Each test gets a unique prefix to ensure isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		t.Skip("VALKEY_TEST_ADDR not set")
	}

	prefix := fmt.Sprintf("authtest:%s:", strings.ReplaceAll(t.Name(), " ", "_"))
	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		return testStore(t)
	})
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestTTLUntil(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Store{now: func() time.Time { return now }}

	assert.Equal(t, time.Hour, s.ttlUntil(now.Add(time.Hour)))
	assert.Equal(t, minKeyTTL, s.ttlUntil(now))
	assert.Equal(t, minKeyTTL, s.ttlUntil(now.Add(-time.Hour)))
}

func TestKeys(t *testing.T) {
	s := &Store{prefix: "p:"}

	assert.Equal(t, "p:client:c1", s.clientKey("c1"))
	assert.Equal(t, "p:clients", s.clientsKey())
	assert.Equal(t, "p:code:abc", s.codeKey("abc"))
	assert.Equal(t, "p:access:abc", s.accessTokenKey("abc"))
	assert.Equal(t, "p:refresh:abc", s.refreshTokenKey("abc"))
	assert.Equal(t, "p:user:42", s.userKey("42"))
}

func TestSaveRefreshToken_ExtendsSiblingTTL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	at := &storage.AccessToken{
		Token:     "access-1",
		ClientID:  "client-1",
		UserID:    "42",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, s.SaveAccessToken(ctx, at))

	rt := &storage.RefreshToken{
		Token:       "refresh-1",
		AccessToken: "access-1",
		ClientID:    "client-1",
		UserID:      "42",
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	require.NoError(t, s.SaveRefreshToken(ctx, rt))

	pttl, err := s.client.Do(ctx, s.client.B().Pttl().Key(s.accessTokenKey("access-1")).Build()).AsInt64()
	require.NoError(t, err)
	assert.Greater(t, pttl, (23 * time.Hour).Milliseconds())
}

func TestSaveRefreshToken_MissingSibling(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	rt := &storage.RefreshToken{
		Token:       "refresh-1",
		AccessToken: "gone",
		ClientID:    "client-1",
		UserID:      "42",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, s.SaveRefreshToken(ctx, rt))

	_, err := s.GetAccessToken(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestListClients_SkipsDanglingIndexEntries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := &storage.Client{ID: "c1", Name: "App", RedirectURIs: []string{"https://app.example/cb"}, Active: true, CreatedAt: time.Now()}
	require.NoError(t, s.SaveClient(ctx, c))
	require.NoError(t, s.client.Do(ctx, s.client.B().Del().Key(s.clientKey("c1")).Build()).Error())

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
}
