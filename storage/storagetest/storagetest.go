// Package storagetest provides a conformance suite for storage backends.
// Backends call Run from their own tests with a factory returning an empty
// store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/giantswarm/oauth-authserver/storage"
)

// Store is the full set of interfaces a backend must implement to run the suite.
type Store interface {
	storage.ClientStore
	storage.CodeStore
	storage.TokenStore
	storage.UserStore
	storage.UserWriter
}

// Backends persist timestamps at millisecond precision.
var epoch = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

var cmpOpts = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) }),
}

// Run runs the conformance suite. factory is called once per subtest.
func Run(t *testing.T, factory func(t *testing.T) Store) {
	t.Run("Client", func(t *testing.T) { testClients(t, factory) })
	t.Run("AuthorizationCode", func(t *testing.T) { testCodes(t, factory) })
	t.Run("AccessToken", func(t *testing.T) { testAccessTokens(t, factory) })
	t.Run("RefreshToken", func(t *testing.T) { testRefreshTokens(t, factory) })
	t.Run("User", func(t *testing.T) { testUsers(t, factory) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, factory) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, factory) })
}

func newClient(id string, createdAt time.Time) *storage.Client {
	return &storage.Client{
		ID:            id,
		SecretHash:    []byte("$2a$10$abcdefghijklmnopqrstuu"),
		Name:          "App " + id,
		RedirectURIs:  []string{"https://app.example/cb", "http://127.0.0.1:8080/cb"},
		Scopes:        []string{"openid", "profile"},
		AllowedOrigin: "https://app.example",
		Active:        true,
		CreatedAt:     createdAt,
	}
}

func newCode(code string, expiresAt time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            "client-1",
		UserID:              "42",
		RedirectURI:         "https://app.example/cb",
		Scopes:              []string{"profile"},
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		CreatedAt:           expiresAt.Add(-10 * time.Minute),
		ExpiresAt:           expiresAt,
	}
}

func testClients(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		s := factory(t)
		want := newClient("client-1", epoch)
		if err := s.SaveClient(ctx, want); err != nil {
			t.Fatalf("SaveClient: %v", err)
		}

		got, err := s.FindActiveClient(ctx, "client-1")
		if err != nil {
			t.Fatalf("FindActiveClient: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
			t.Errorf("client roundtrip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		s := factory(t)
		if _, err := s.FindActiveClient(ctx, "nope"); !errors.Is(err, storage.ErrClientNotFound) {
			t.Errorf("FindActiveClient: want ErrClientNotFound, got %v", err)
		}
	})

	t.Run("deactivate", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveClient(ctx, newClient("client-1", epoch)); err != nil {
			t.Fatalf("SaveClient: %v", err)
		}
		if err := s.DeactivateClient(ctx, "client-1"); err != nil {
			t.Fatalf("DeactivateClient: %v", err)
		}
		if _, err := s.FindActiveClient(ctx, "client-1"); !errors.Is(err, storage.ErrClientNotFound) {
			t.Errorf("FindActiveClient after deactivate: want ErrClientNotFound, got %v", err)
		}

		// rows are kept for history
		clients, err := s.ListClients(ctx)
		if err != nil {
			t.Fatalf("ListClients: %v", err)
		}
		if len(clients) != 1 || clients[0].Active {
			t.Errorf("ListClients = %+v, want one inactive client", clients)
		}
	})

	t.Run("deactivate unknown", func(t *testing.T) {
		s := factory(t)
		if err := s.DeactivateClient(ctx, "nope"); !errors.Is(err, storage.ErrClientNotFound) {
			t.Errorf("DeactivateClient: want ErrClientNotFound, got %v", err)
		}
	})

	t.Run("list ordered by creation", func(t *testing.T) {
		s := factory(t)
		for i, id := range []string{"c", "a", "b"} {
			if err := s.SaveClient(ctx, newClient(id, epoch.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("SaveClient: %v", err)
			}
		}

		clients, err := s.ListClients(ctx)
		if err != nil {
			t.Fatalf("ListClients: %v", err)
		}
		var ids []string
		for _, c := range clients {
			ids = append(ids, c.ID)
		}
		if diff := cmp.Diff([]string{"c", "a", "b"}, ids); diff != "" {
			t.Errorf("ListClients order (-want +got):\n%s", diff)
		}
	})
}

func testCodes(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()
	now := epoch
	expires := now.Add(10 * time.Minute)

	t.Run("find valid", func(t *testing.T) {
		s := factory(t)
		want := newCode("code-1", expires)
		if err := s.SaveAuthorizationCode(ctx, want); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}

		got, err := s.FindValidAuthorizationCode(ctx, "code-1", "client-1", "https://app.example/cb", now)
		if err != nil {
			t.Fatalf("FindValidAuthorizationCode: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
			t.Errorf("code roundtrip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("binding mismatches", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAuthorizationCode(ctx, newCode("code-1", expires)); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}

		tests := []struct {
			name, code, clientID, redirectURI string
			at                                time.Time
		}{
			{"unknown code", "code-2", "client-1", "https://app.example/cb", now},
			{"other client", "code-1", "client-2", "https://app.example/cb", now},
			{"other redirect", "code-1", "client-1", "http://127.0.0.1:8080/cb", now},
			{"at expiry", "code-1", "client-1", "https://app.example/cb", expires},
			{"after expiry", "code-1", "client-1", "https://app.example/cb", expires.Add(time.Second)},
		}
		for _, tt := range tests {
			_, err := s.FindValidAuthorizationCode(ctx, tt.code, tt.clientID, tt.redirectURI, tt.at)
			if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
				t.Errorf("%s: want ErrAuthorizationCodeNotFound, got %v", tt.name, err)
			}
		}
	})

	t.Run("consume once", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAuthorizationCode(ctx, newCode("code-1", expires)); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}

		got, err := s.ConsumeAuthorizationCode(ctx, "code-1", now)
		if err != nil {
			t.Fatalf("ConsumeAuthorizationCode: %v", err)
		}
		if got.UserID != "42" {
			t.Errorf("UserID = %q, want 42", got.UserID)
		}

		if _, err := s.ConsumeAuthorizationCode(ctx, "code-1", now); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			t.Errorf("second consume: want ErrAuthorizationCodeNotFound, got %v", err)
		}
		if _, err := s.FindValidAuthorizationCode(ctx, "code-1", "client-1", "https://app.example/cb", now); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			t.Errorf("find after consume: want ErrAuthorizationCodeNotFound, got %v", err)
		}
	})

	t.Run("consume expired", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAuthorizationCode(ctx, newCode("code-1", expires)); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}
		if _, err := s.ConsumeAuthorizationCode(ctx, "code-1", expires); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			t.Errorf("consume at expiry: want ErrAuthorizationCodeNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAuthorizationCode(ctx, newCode("code-1", expires)); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}
		if err := s.DeleteAuthorizationCode(ctx, "code-1"); err != nil {
			t.Fatalf("DeleteAuthorizationCode: %v", err)
		}
		if err := s.DeleteAuthorizationCode(ctx, "code-1"); err != nil {
			t.Errorf("DeleteAuthorizationCode of missing code: %v", err)
		}
		if _, err := s.ConsumeAuthorizationCode(ctx, "code-1", now); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			t.Errorf("consume after delete: want ErrAuthorizationCodeNotFound, got %v", err)
		}
	})

	t.Run("no pkce", func(t *testing.T) {
		s := factory(t)
		code := newCode("code-1", expires)
		code.CodeChallenge = ""
		code.CodeChallengeMethod = ""
		code.Scopes = nil
		if err := s.SaveAuthorizationCode(ctx, code); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}
		got, err := s.ConsumeAuthorizationCode(ctx, "code-1", now)
		if err != nil {
			t.Fatalf("ConsumeAuthorizationCode: %v", err)
		}
		if diff := cmp.Diff(code, got, cmpOpts...); diff != "" {
			t.Errorf("code mismatch (-want +got):\n%s", diff)
		}
	})
}

func testAccessTokens(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()
	now := epoch
	want := &storage.AccessToken{
		Token:     "access-1",
		ClientID:  "client-1",
		UserID:    "42",
		Scopes:    []string{"openid", "email"},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	t.Run("roundtrip", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAccessToken(ctx, want); err != nil {
			t.Fatalf("SaveAccessToken: %v", err)
		}

		got, err := s.FindValidAccessToken(ctx, "access-1", now)
		if err != nil {
			t.Fatalf("FindValidAccessToken: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
			t.Errorf("token roundtrip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("expired is invisible to FindValid but not Get", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAccessToken(ctx, want); err != nil {
			t.Fatalf("SaveAccessToken: %v", err)
		}

		later := now.Add(time.Hour)
		if _, err := s.FindValidAccessToken(ctx, "access-1", later); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("FindValidAccessToken at expiry: want ErrTokenNotFound, got %v", err)
		}
		if _, err := s.GetAccessToken(ctx, "access-1"); err != nil {
			t.Errorf("GetAccessToken of expired token: %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAccessToken(ctx, want); err != nil {
			t.Fatalf("SaveAccessToken: %v", err)
		}
		if err := s.DeleteAccessToken(ctx, "access-1"); err != nil {
			t.Fatalf("DeleteAccessToken: %v", err)
		}
		if _, err := s.GetAccessToken(ctx, "access-1"); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("GetAccessToken after delete: want ErrTokenNotFound, got %v", err)
		}
		if err := s.DeleteAccessToken(ctx, "access-1"); err != nil {
			t.Errorf("DeleteAccessToken of missing token: %v", err)
		}
	})
}

func testRefreshTokens(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()
	now := epoch
	want := &storage.RefreshToken{
		Token:       "refresh-1",
		AccessToken: "access-1",
		ClientID:    "client-1",
		UserID:      "42",
		CreatedAt:   now,
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
	}

	t.Run("roundtrip", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveRefreshToken(ctx, want); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}

		got, err := s.FindValidRefreshToken(ctx, "refresh-1", "client-1", now)
		if err != nil {
			t.Fatalf("FindValidRefreshToken: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
			t.Errorf("token roundtrip mismatch (-want +got):\n%s", diff)
		}

		if _, err := s.GetRefreshToken(ctx, "refresh-1"); err != nil {
			t.Errorf("GetRefreshToken: %v", err)
		}
	})

	t.Run("bound to client", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveRefreshToken(ctx, want); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
		if _, err := s.FindValidRefreshToken(ctx, "refresh-1", "client-2", now); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("FindValidRefreshToken other client: want ErrTokenNotFound, got %v", err)
		}
		if _, err := s.ConsumeRefreshToken(ctx, "refresh-1", "client-2", now); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("ConsumeRefreshToken other client: want ErrTokenNotFound, got %v", err)
		}
		// a failed consume by another client must not burn the token
		if _, err := s.ConsumeRefreshToken(ctx, "refresh-1", "client-1", now); err != nil {
			t.Errorf("ConsumeRefreshToken owner: %v", err)
		}
	})

	t.Run("consume once", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveRefreshToken(ctx, want); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
		got, err := s.ConsumeRefreshToken(ctx, "refresh-1", "client-1", now)
		if err != nil {
			t.Fatalf("ConsumeRefreshToken: %v", err)
		}
		if got.AccessToken != "access-1" {
			t.Errorf("AccessToken = %q, want access-1", got.AccessToken)
		}
		if _, err := s.ConsumeRefreshToken(ctx, "refresh-1", "client-1", now); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("second consume: want ErrTokenNotFound, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveRefreshToken(ctx, want); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
		if _, err := s.ConsumeRefreshToken(ctx, "refresh-1", "client-1", want.ExpiresAt); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("consume at expiry: want ErrTokenNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveRefreshToken(ctx, want); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
		if err := s.DeleteRefreshToken(ctx, "refresh-1"); err != nil {
			t.Fatalf("DeleteRefreshToken: %v", err)
		}
		if _, err := s.GetRefreshToken(ctx, "refresh-1"); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("GetRefreshToken after delete: want ErrTokenNotFound, got %v", err)
		}
	})
}

func testUsers(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()

	s := factory(t)
	want := &storage.User{
		ID:            "42",
		DisplayName:   "Ada Lovelace",
		AvatarURL:     "https://cdn.example/ada.png",
		Email:         "ada@example.com",
		EmailVerified: true,
	}
	if err := s.SaveUser(ctx, want); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	got, err := s.GetUser(ctx, "42")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("user roundtrip mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetUser(ctx, "43"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GetUser unknown: want ErrUserNotFound, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()
	const workers = 16

	t.Run("code", func(t *testing.T) {
		s := factory(t)
		if err := s.SaveAuthorizationCode(ctx, newCode("race", epoch.Add(time.Minute))); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}

		var wins atomic.Int32
		errs := make(chan error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ConsumeAuthorizationCode(ctx, "race", epoch)
				switch {
				case err == nil:
					wins.Add(1)
				case !errors.Is(err, storage.ErrAuthorizationCodeNotFound):
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("unexpected error: %v", err)
		}
		if got := wins.Load(); got != 1 {
			t.Errorf("successful consumes = %d, want exactly 1", got)
		}
	})

	t.Run("refresh token", func(t *testing.T) {
		s := factory(t)
		rt := &storage.RefreshToken{
			Token:       "race",
			AccessToken: "access",
			ClientID:    "client-1",
			UserID:      "42",
			CreatedAt:   epoch,
			ExpiresAt:   epoch.Add(time.Hour),
		}
		if err := s.SaveRefreshToken(ctx, rt); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeRefreshToken(ctx, "race", "client-1", epoch); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Errorf("successful consumes = %d, want exactly 1", got)
		}
	})
}

func testDeleteExpired(t *testing.T, factory func(t *testing.T) Store) {
	ctx := context.Background()
	s := factory(t)

	sweeper, ok := s.(storage.Sweeper)
	if !ok {
		t.Skip("backend expires rows natively")
	}

	for i, exp := range []time.Time{epoch.Add(-time.Second), epoch, epoch.Add(time.Minute)} {
		code := newCode(fmt.Sprintf("code-%d", i), exp)
		if err := s.SaveAuthorizationCode(ctx, code); err != nil {
			t.Fatalf("SaveAuthorizationCode: %v", err)
		}
		at := &storage.AccessToken{Token: fmt.Sprintf("access-%d", i), ClientID: "c", UserID: "u", CreatedAt: epoch, ExpiresAt: exp}
		if err := s.SaveAccessToken(ctx, at); err != nil {
			t.Fatalf("SaveAccessToken: %v", err)
		}
		rt := &storage.RefreshToken{Token: fmt.Sprintf("refresh-%d", i), AccessToken: at.Token, ClientID: "c", UserID: "u", CreatedAt: epoch, ExpiresAt: exp}
		if err := s.SaveRefreshToken(ctx, rt); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
	}

	// expired access token still referenced by a live refresh token
	kept := &storage.AccessToken{Token: "access-kept", ClientID: "c", UserID: "u", Scopes: []string{"profile"}, CreatedAt: epoch, ExpiresAt: epoch.Add(-time.Second)}
	if err := s.SaveAccessToken(ctx, kept); err != nil {
		t.Fatalf("SaveAccessToken: %v", err)
	}
	live := &storage.RefreshToken{Token: "refresh-live", AccessToken: kept.Token, ClientID: "c", UserID: "u", CreatedAt: epoch, ExpiresAt: epoch.Add(30 * 24 * time.Hour)}
	if err := s.SaveRefreshToken(ctx, live); err != nil {
		t.Fatalf("SaveRefreshToken: %v", err)
	}

	n, err := sweeper.DeleteExpired(ctx, epoch)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 6 {
		t.Errorf("DeleteExpired removed %d rows, want 6", n)
	}

	got, err := s.GetAccessToken(ctx, "access-kept")
	if err != nil {
		t.Fatalf("access token referenced by a live refresh token was removed: %v", err)
	}
	if diff := cmp.Diff([]string{"profile"}, got.Scopes); diff != "" {
		t.Errorf("kept access token scopes mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.GetRefreshToken(ctx, "refresh-live"); err != nil {
		t.Errorf("live refresh token was removed: %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "access-0"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired access token without a live refresh token should be removed, got %v", err)
	}

	if _, err := s.GetAccessToken(ctx, "access-2"); err != nil {
		t.Errorf("unexpired access token was removed: %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "refresh-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("refresh token expiring at now should be removed, got %v", err)
	}
}
