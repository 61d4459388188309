package memory

import (
	"context"
	"testing"
	"time"

	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/internal/testutil"
	"github.com/giantswarm/oauth-authserver/storage"
	"github.com/giantswarm/oauth-authserver/storage/storagetest"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		return New()
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New()

	if err := store.SaveClient(ctx, testutil.TestClient("client-1", nil)); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.FindActiveClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("FindActiveClient() error = %v", err)
	}
	got.RedirectURIs[0] = "https://evil.example/cb"
	got.Active = false

	again, err := store.FindActiveClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("FindActiveClient() error = %v", err)
	}
	if again.RedirectURIs[0] != testutil.TestRedirectURI {
		t.Errorf("stored client was mutated through a returned copy: %v", again.RedirectURIs)
	}
}

func TestStore_ConsumeReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	code := &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    "client-1",
		RedirectURI: testutil.TestRedirectURI,
		Scopes:      []string{"profile"},
		ExpiresAt:   now.Add(time.Minute),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	consumed, err := store.ConsumeAuthorizationCode(ctx, "code-1", now)
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	consumed.Scopes[0] = "admin"
	if code.Scopes[0] != "profile" {
		t.Errorf("saved code was mutated through the consumed copy: %v", code.Scopes)
	}

	rt := &storage.RefreshToken{Token: "refresh-1", AccessToken: "access-1", ClientID: "client-1", ExpiresAt: now.Add(time.Hour)}
	if err := store.SaveRefreshToken(ctx, rt); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	first, err := store.ConsumeRefreshToken(ctx, "refresh-1", "client-1", now)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	first.ClientID = "client-2"

	if err := store.SaveRefreshToken(ctx, rt); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	second, err := store.ConsumeRefreshToken(ctx, "refresh-1", "client-1", now)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	if first == second || second.ClientID != "client-1" {
		t.Errorf("ConsumeRefreshToken() returned shared state: first=%p second=%p client=%q", first, second, second.ClientID)
	}
}

func TestStore_SaveRejectsEmptyKeys(t *testing.T) {
	ctx := context.Background()
	store := New()

	if err := store.SaveClient(ctx, &storage.Client{}); err == nil {
		t.Error("SaveClient() with empty ID should return error")
	}
	if err := store.SaveAuthorizationCode(ctx, nil); err == nil {
		t.Error("SaveAuthorizationCode(nil) should return error")
	}
	if err := store.SaveAccessToken(ctx, &storage.AccessToken{}); err == nil {
		t.Error("SaveAccessToken() with empty token should return error")
	}
	if err := store.SaveRefreshToken(ctx, &storage.RefreshToken{}); err == nil {
		t.Error("SaveRefreshToken() with empty token should return error")
	}
	if err := store.SaveUser(ctx, &storage.User{}); err == nil {
		t.Error("SaveUser() with empty ID should return error")
	}
}

func TestStore_WithInstrumentation(t *testing.T) {
	ctx := context.Background()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(ctx) }()

	store := New()
	store.SetInstrumentation(inst)

	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "client-1",
		ExpiresAt: now.Add(time.Minute),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if store.codesCount.Load() != 1 {
		t.Errorf("codesCount = %d, want 1", store.codesCount.Load())
	}

	if _, err := store.ConsumeAuthorizationCode(ctx, "code-1", now); err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if store.codesCount.Load() != 0 {
		t.Errorf("codesCount = %d, want 0", store.codesCount.Load())
	}
}
