package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/oauth-authserver"
	"github.com/giantswarm/oauth-authserver/internal/config"
	"github.com/giantswarm/oauth-authserver/server"
	"github.com/giantswarm/oauth-authserver/storage/memory"
	"github.com/giantswarm/oauth-authserver/storage/sqlstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.RegistrationAccessToken = "registration-token"
	cfg.Users = []config.UserConfig{{ID: "42", DisplayName: "Ada", Email: "ada@example.com", EmailVerified: true}}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestNew_Memory(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AccessTokenTTL = 5 * time.Minute
	app := newApp(t, cfg)

	assert.IsType(t, &memory.Store{}, app.Store)
	assert.Equal(t, int64(300), app.Server.Config.AccessTokenTTL)
	assert.NotNil(t, app.Server.Auditor)

	user, err := app.Store.GetUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.DisplayName)
}

func TestNew_SQLiteWithMigration(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Type = config.StorageSQLite
	cfg.Storage.DSN = "file:bootstrap_test?mode=memory&cache=shared"
	cfg.Storage.AutoMigrate = true
	app := newApp(t, cfg)

	assert.IsType(t, &sqlstore.Store{}, app.Store)

	client, secret, err := app.Server.RegisterClient(context.Background(), server.ClientRegistration{
		Name:         "cli",
		RedirectURIs: []string{"http://127.0.0.1:8765/callback"},
		Scopes:       []string{"profile"},
	})
	require.NoError(t, err)

	got, err := app.Server.ValidateClient(context.Background(), client.ID, secret)
	require.NoError(t, err)
	assert.Equal(t, "cli", got.Name)
}

func TestHTTPHandler(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Exporter = "prometheus"
	app := newApp(t, cfg)

	ts := httptest.NewServer(app.HTTPHandler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + oauth.PathMetadata)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var metadata oauth.AuthorizationServerMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
	assert.Equal(t, cfg.Server.Issuer, metadata.Issuer)
	assert.Equal(t, cfg.Server.Issuer+oauth.PathRegister, metadata.RegistrationEndpoint)

	metricsResp, err := http.Get(ts.URL + cfg.Metrics.Path)
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "oauth"), "metrics output lacks oauth series")
}

func TestHTTPHandler_NoMetricsWhenDisabled(t *testing.T) {
	app := newApp(t, testConfig())

	rec := httptest.NewRecorder()
	app.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenStore_Errors(t *testing.T) {
	ctx := context.Background()

	_, _, err := OpenStore(ctx, config.StorageConfig{Type: "etcd"}, discardLogger())
	assert.ErrorContains(t, err, "unsupported storage type")

	_, _, err = OpenStore(ctx, config.StorageConfig{Type: config.StorageValkey}, discardLogger())
	assert.Error(t, err)
}

func TestNewCodec(t *testing.T) {
	codec, err := NewCodec(strings.Repeat("ab", 32), discardLogger())
	require.NoError(t, err)

	encoded, err := codec.Encode("csrf", "client", "/oauth/authorize")
	require.NoError(t, err)

	other, err := NewCodec(strings.Repeat("ab", 32), discardLogger())
	require.NoError(t, err)
	decoded, err := other.Decode(encoded)
	require.NoError(t, err, "codecs sharing a key must accept each other's states")
	assert.Equal(t, "client", decoded.ClientID)

	_, err = NewCodec("zz", discardLogger())
	assert.ErrorContains(t, err, "decode state key")
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.SweepInterval = time.Millisecond
	app := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.RunSweeper(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}
