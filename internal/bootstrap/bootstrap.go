// Package bootstrap builds the authorization server's components from the
// process configuration.
package bootstrap

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	oauth "github.com/giantswarm/oauth-authserver"
	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/internal/config"
	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/server"
	"github.com/giantswarm/oauth-authserver/state"
	"github.com/giantswarm/oauth-authserver/storage"
	"github.com/giantswarm/oauth-authserver/storage/memory"
	"github.com/giantswarm/oauth-authserver/storage/sqlstore"
	"github.com/giantswarm/oauth-authserver/storage/valkey"
)

// Store is implemented by every storage backend.
type Store interface {
	storage.ClientStore
	storage.CodeStore
	storage.TokenStore
	storage.UserStore
	storage.UserWriter
}

type instrumentedStore interface {
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// App holds the wired components. The process owns their lifecycle and
// releases them with Close.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Store           Store
	Server          *server.Server
	Handler         *oauth.Handler
	Instrumentation *instrumentation.Instrumentation

	closeStore func() error
}

// OpenStore connects the configured backend. The returned function closes it.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, func() error, error) {
	switch cfg.Type {
	case config.StorageMemory, "":
		store := memory.New()
		store.SetLogger(logger)
		return store, func() error { return nil }, nil

	case config.StorageSQLite, config.StoragePostgres, config.StorageMySQL:
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Dialect:         sqlstore.Dialect(cfg.Type),
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", cfg.Type, err)
		}
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, nil, fmt.Errorf("migrate %s store: %w", cfg.Type, err)
			}
		}
		return store, store.Close, nil

	case config.StorageValkey:
		vcfg := valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		}
		if cfg.Valkey.TLS {
			vcfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(vcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open valkey store: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// NewInstrumentation creates OpenTelemetry providers for the metrics config.
func NewInstrumentation(cfg config.MetricsConfig) (*instrumentation.Instrumentation, error) {
	return instrumentation.New(instrumentation.Config{
		Enabled:        cfg.Enabled,
		MetricExporter: cfg.Exporter,
		ServiceVersion: cfg.ServiceVersion,
	})
}

// NewServer builds the authorization engine on store.
func NewServer(cfg config.ServerConfig, store Store, inst *instrumentation.Instrumentation, logger *slog.Logger) (*server.Server, error) {
	srv, err := server.New(store, store, store, store, &server.Config{
		Issuer:                     cfg.Issuer,
		AuthorizationCodeTTL:       seconds(cfg.AuthorizationCodeTTL),
		AccessTokenTTL:             seconds(cfg.AccessTokenTTL),
		RefreshTokenTTL:            seconds(cfg.RefreshTokenTTL),
		RequirePKCE:                cfg.RequirePKCE,
		DisallowPKCEPlain:          cfg.DisallowPKCEPlain,
		RegistrationAccessToken:    cfg.RegistrationAccessToken,
		AllowedCustomSchemes:       cfg.AllowedCustomSchemes,
		AllowPrivateIPRedirectURIs: cfg.AllowPrivateIPRedirects,
		AllowInsecureHTTP:          cfg.AllowInsecureHTTP,
	}, logger)
	if err != nil {
		return nil, err
	}

	auditor := security.NewAuditor(logger, cfg.AuditEnabled)
	auditor.SetInstrumentation(inst)
	srv.SetAuditor(auditor)
	srv.SetInstrumentation(inst)
	return srv, nil
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// NewCodec builds the login state codec from the hex encoded key.
func NewCodec(hexKey string, logger *slog.Logger) (*state.Codec, error) {
	var key []byte
	if hexKey != "" {
		var err error
		key, err = hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decode state key: %w", err)
		}
	}
	return state.NewCodec(key, logger)
}

// SeedUsers saves the configured users into w.
func SeedUsers(ctx context.Context, w storage.UserWriter, users []config.UserConfig) error {
	for _, u := range users {
		err := w.SaveUser(ctx, &storage.User{
			ID:            u.ID,
			DisplayName:   u.DisplayName,
			AvatarURL:     u.AvatarURL,
			Email:         u.Email,
			EmailVerified: u.EmailVerified,
		})
		if err != nil {
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
	}
	return nil
}

// New wires storage, instrumentation, the engine and the HTTP front end.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inst, err := NewInstrumentation(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create instrumentation: %w", err)
	}
	if cfg.Metrics.Enabled {
		otel.SetTracerProvider(inst.TracerProvider())
		otel.SetMeterProvider(inst.MeterProvider())
	}

	store, closeStore, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		_ = inst.Shutdown(ctx)
		return nil, err
	}

	app := &App{
		Config:          cfg,
		Logger:          logger,
		Store:           store,
		Instrumentation: inst,
		closeStore:      closeStore,
	}

	if is, ok := store.(instrumentedStore); ok {
		is.SetInstrumentation(inst)
	}

	if err := SeedUsers(ctx, store, cfg.Users); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	app.Server, err = NewServer(cfg.Server, store, inst, logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("create server: %w", err)
	}

	codec, err := NewCodec(cfg.Server.StateKey, logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	app.Handler, err = oauth.NewHandler(app.Server, codec, oauth.HeaderAuthenticator{Header: cfg.HTTP.UserHeader}, &oauth.HandlerConfig{
		LoginURL:       cfg.HTTP.LoginURL,
		CSRFCookieName: cfg.HTTP.CSRFCookieName,
		SecureCookies:  cfg.HTTP.SecureCookies,
		RateLimit: oauth.RateLimitConfig{
			Rate:              cfg.HTTP.RateLimit.Rate,
			Burst:             cfg.HTTP.RateLimit.Burst,
			RegistrationRate:  cfg.HTTP.RateLimit.RegistrationRate,
			RegistrationBurst: cfg.HTTP.RateLimit.RegistrationBurst,
		},
		TrustProxy:         cfg.HTTP.TrustProxy,
		TrustedProxyCount:  cfg.HTTP.TrustedProxyCount,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
	}, logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("create handler: %w", err)
	}

	return app, nil
}

// HTTPHandler serves the OAuth endpoints and, with the Prometheus exporter,
// the metrics endpoint.
func (a *App) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	a.Handler.RegisterRoutes(mux)
	if a.Config.Metrics.Enabled && a.Config.Metrics.Exporter == instrumentation.ExporterPrometheus {
		mux.Handle(a.Config.Metrics.Path, a.Instrumentation.MetricsHandler())
	}
	return security.RequestIDMiddleware(mux)
}

// RunSweeper deletes expired rows until ctx is cancelled. Backends that
// expire rows natively are left alone.
func (a *App) RunSweeper(ctx context.Context) {
	sweeper, ok := a.Store.(storage.Sweeper)
	if !ok {
		a.Logger.Debug("Storage expires rows natively, sweeper not started")
		return
	}
	storage.RunSweeper(ctx, sweeper, a.Config.Storage.SweepInterval, time.Now, a.Logger)
}

// Close releases the handler, the store and the instrumentation providers.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Handler != nil {
		a.Handler.Close()
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.closeStore = nil
	}
	if a.Instrumentation != nil {
		if err := a.Instrumentation.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown instrumentation: %w", err))
		}
	}
	return errors.Join(errs...)
}
