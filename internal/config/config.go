// Package config loads the process configuration of the authorization
// server from a YAML file, an optional .env file and AUTHSERVER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTHSERVER_"

// Storage backend types.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMySQL    = "mysql"
	StorageValkey   = "valkey"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Users are seeded into the store at startup. Meant for development.
	Users []UserConfig `yaml:"users" validate:"dive"`
}

type ServerConfig struct {
	Issuer               string        `yaml:"issuer" validate:"required,url"`
	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl" validate:"gte=0"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl" validate:"gte=0"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl" validate:"gte=0"`
	RequirePKCE          bool          `yaml:"require_pkce"`
	DisallowPKCEPlain    bool          `yaml:"disallow_pkce_plain"`

	// RegistrationAccessToken protects the client registration endpoint.
	// Empty disables registration over HTTP.
	RegistrationAccessToken string   `yaml:"registration_access_token"`
	AllowedCustomSchemes    []string `yaml:"allowed_custom_schemes"`
	AllowPrivateIPRedirects bool     `yaml:"allow_private_ip_redirect_uris"`
	AllowInsecureHTTP       bool     `yaml:"allow_insecure_http"`

	// StateKey is the hex encoded HMAC key for login state. Empty generates a
	// random key per process.
	StateKey string `yaml:"state_key" validate:"omitempty,hexadecimal,len=64"`

	AuditEnabled bool `yaml:"audit_enabled"`
}

type HTTPConfig struct {
	ListenAddress      string          `yaml:"listen_address" validate:"required"`
	LoginURL           string          `yaml:"login_url" validate:"omitempty,url"`
	UserHeader         string          `yaml:"user_header"`
	CSRFCookieName     string          `yaml:"csrf_cookie_name"`
	SecureCookies      bool            `yaml:"secure_cookies"`
	TrustProxy         bool            `yaml:"trust_proxy"`
	TrustedProxyCount  int             `yaml:"trusted_proxy_count" validate:"gte=0"`
	MaxRequestBodySize int64           `yaml:"max_request_body_size" validate:"gte=0"`
	ReadHeaderTimeout  time.Duration   `yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout    time.Duration   `yaml:"shutdown_timeout" validate:"gte=0"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Rate              int `yaml:"rate" validate:"gte=0"`
	Burst             int `yaml:"burst" validate:"gte=0"`
	RegistrationRate  int `yaml:"registration_rate" validate:"gte=0"`
	RegistrationBurst int `yaml:"registration_burst" validate:"gte=0"`
}

type StorageConfig struct {
	Type string `yaml:"type" validate:"required,oneof=memory sqlite postgres mysql valkey"`

	// DSN is required for the sqlite, postgres and mysql backends.
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`

	// AutoMigrate creates the relational schema at startup.
	AutoMigrate bool `yaml:"auto_migrate"`

	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`

	Valkey ValkeyConfig `yaml:"valkey"`
}

type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
	TLS       bool   `yaml:"tls"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`

	// File additionally writes logs to a rotated file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Exporter       string `yaml:"exporter" validate:"oneof=none prometheus"`
	Path           string `yaml:"path" validate:"omitempty,startswith=/"`
	ServiceVersion string `yaml:"service_version"`
}

type UserConfig struct {
	ID            string `yaml:"id" validate:"required"`
	DisplayName   string `yaml:"display_name"`
	AvatarURL     string `yaml:"avatar_url" validate:"omitempty,url"`
	Email         string `yaml:"email" validate:"omitempty,email"`
	EmailVerified bool   `yaml:"email_verified"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Issuer:       "http://localhost:8080",
			AuditEnabled: true,
		},
		HTTP: HTTPConfig{
			ListenAddress:     ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Storage: StorageConfig{
			Type:          StorageMemory,
			SweepInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Exporter: "none",
			Path:     "/metrics",
		},
	}
}

// LoadEnvFile loads variables from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads the config file at path on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		expanded := os.ExpandEnv(string(content))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides sets fields from AUTHSERVER_* variables found by lookup.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("ISSUER", &cfg.Server.Issuer)
	str("REGISTRATION_ACCESS_TOKEN", &cfg.Server.RegistrationAccessToken)
	str("STATE_KEY", &cfg.Server.StateKey)
	boolean("REQUIRE_PKCE", &cfg.Server.RequirePKCE)
	boolean("ALLOW_INSECURE_HTTP", &cfg.Server.AllowInsecureHTTP)

	str("LISTEN_ADDRESS", &cfg.HTTP.ListenAddress)
	str("LOGIN_URL", &cfg.HTTP.LoginURL)
	str("USER_HEADER", &cfg.HTTP.UserHeader)
	boolean("SECURE_COOKIES", &cfg.HTTP.SecureCookies)
	boolean("TRUST_PROXY", &cfg.HTTP.TrustProxy)
	integer("TRUSTED_PROXY_COUNT", &cfg.HTTP.TrustedProxyCount)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_DSN", &cfg.Storage.DSN)
	boolean("STORAGE_AUTO_MIGRATE", &cfg.Storage.AutoMigrate)
	str("VALKEY_ADDRESS", &cfg.Storage.Valkey.Address)
	str("VALKEY_PASSWORD", &cfg.Storage.Valkey.Password)
	integer("VALKEY_DB", &cfg.Storage.Valkey.DB)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_FILE", &cfg.Logging.File)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_EXPORTER", &cfg.Metrics.Exporter)

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	return errors.Join(errs...)
}

// Validate checks field constraints and the storage settings each backend
// needs.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case StorageSQLite, StoragePostgres, StorageMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for %s storage", c.Storage.Type)
		}
	case StorageValkey:
		if c.Storage.Valkey.Address == "" {
			return fmt.Errorf("storage.valkey.address is required for valkey storage")
		}
	}
	return nil
}

// IsSQL reports whether the configured backend is relational.
func (s StorageConfig) IsSQL() bool {
	switch s.Type {
	case StorageSQLite, StoragePostgres, StorageMySQL:
		return true
	}
	return false
}
