package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("TEST_DSN", "file:auth.db")
	path := writeFile(t, "authserver.yaml", `
server:
  issuer: https://auth.example.com
  access_token_ttl: 30m
  require_pkce: true
  state_key: 000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f
http:
  listen_address: ":9000"
  login_url: https://auth.example.com/login
  rate_limit:
    rate: 5
storage:
  type: sqlite
  dsn: ${TEST_DSN}
  auto_migrate: true
logging:
  level: DEBUG
  format: text
users:
  - id: "42"
    display_name: Ada
    email: ada@example.com
    email_verified: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Issuer != "https://auth.example.com" {
		t.Errorf("Issuer = %q", cfg.Server.Issuer)
	}
	if cfg.Server.AccessTokenTTL != 30*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 30m", cfg.Server.AccessTokenTTL)
	}
	if !cfg.Server.RequirePKCE {
		t.Error("RequirePKCE = false, want true")
	}
	if cfg.HTTP.ListenAddress != ":9000" {
		t.Errorf("ListenAddress = %q", cfg.HTTP.ListenAddress)
	}
	if cfg.HTTP.RateLimit.Rate != 5 {
		t.Errorf("RateLimit.Rate = %d, want 5", cfg.HTTP.RateLimit.Rate)
	}
	if cfg.Storage.DSN != "file:auth.db" {
		t.Errorf("DSN = %q, want expanded env value", cfg.Storage.DSN)
	}
	if !cfg.Storage.IsSQL() {
		t.Error("IsSQL() = false for sqlite")
	}
	// keys absent from the file keep their defaults
	if cfg.Storage.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want default", cfg.Storage.SweepInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want lowercased", cfg.Logging.Level)
	}

	wantUsers := []UserConfig{{ID: "42", DisplayName: "Ada", Email: "ada@example.com", EmailVerified: true}}
	if diff := cmp.Diff(wantUsers, cfg.Users); diff != "" {
		t.Errorf("Users mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing file: expected error")
	}

	path := writeFile(t, "bad.yaml", "server: [")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "decode config file") {
		t.Errorf("Load() with bad yaml error = %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"AUTHSERVER_ISSUER":                    "https://issuer.example.com",
		"AUTHSERVER_STORAGE_TYPE":              "valkey",
		"AUTHSERVER_VALKEY_ADDRESS":            "valkey:6379",
		"AUTHSERVER_VALKEY_DB":                 "2",
		"AUTHSERVER_TRUST_PROXY":               "true",
		"AUTHSERVER_LOG_FORMAT":                "TEXT",
		"AUTHSERVER_METRICS_ENABLED":           "1",
		"AUTHSERVER_REGISTRATION_ACCESS_TOKEN": "reg",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := ApplyEnvOverrides(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnvOverrides() error = %v", err)
	}

	if cfg.Server.Issuer != "https://issuer.example.com" {
		t.Errorf("Issuer = %q", cfg.Server.Issuer)
	}
	if cfg.Storage.Type != StorageValkey || cfg.Storage.Valkey.Address != "valkey:6379" || cfg.Storage.Valkey.DB != 2 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if !cfg.HTTP.TrustProxy {
		t.Error("TrustProxy = false, want true")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Server.RegistrationAccessToken != "reg" {
		t.Errorf("RegistrationAccessToken = %q", cfg.Server.RegistrationAccessToken)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	env := map[string]string{
		"AUTHSERVER_TRUST_PROXY": "maybe",
		"AUTHSERVER_VALKEY_DB":   "two",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err := ApplyEnvOverrides(Default(), lookup)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"AUTHSERVER_TRUST_PROXY", "AUTHSERVER_VALKEY_DB"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing issuer",
			mutate:  func(c *Config) { c.Server.Issuer = "" },
			wantErr: "issuer",
		},
		{
			name:    "issuer not a url",
			mutate:  func(c *Config) { c.Server.Issuer = "not a url" },
			wantErr: "issuer",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "etcd" },
			wantErr: "type",
		},
		{
			name:    "sql storage without dsn",
			mutate:  func(c *Config) { c.Storage.Type = StoragePostgres },
			wantErr: "storage.dsn",
		},
		{
			name:    "valkey without address",
			mutate:  func(c *Config) { c.Storage.Type = StorageValkey },
			wantErr: "storage.valkey.address",
		},
		{
			name:    "short state key",
			mutate:  func(c *Config) { c.Server.StateKey = "abcd" },
			wantErr: "state_key",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "level",
		},
		{
			name:    "user without id",
			mutate:  func(c *Config) { c.Users = []UserConfig{{DisplayName: "nobody"}} },
			wantErr: "id",
		},
		{
			name:    "metrics path not absolute",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: "path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("LoadEnvFile() with missing file error = %v", err)
	}

	t.Setenv("AUTHSERVER_LOGIN_URL", "")
	os.Unsetenv("AUTHSERVER_LOGIN_URL")
	path := writeFile(t, ".env", "AUTHSERVER_LOGIN_URL=https://login.example.com\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.LoginURL != "https://login.example.com" {
		t.Errorf("LoginURL = %q, want value from .env", cfg.HTTP.LoginURL)
	}
}
