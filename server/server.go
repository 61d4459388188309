package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/storage"
)

// tokenIDLogLength is the number of characters logged from a code or token
const tokenIDLogLength = 8

// Server implements the authorization server protocol engine. It holds no
// per-request state; everything lives in the injected stores.
type Server struct {
	clients storage.ClientStore
	codes   storage.CodeStore
	tokens  storage.TokenStore
	users   storage.UserStore

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// New creates a new OAuth server
func New(
	clients storage.ClientStore,
	codes storage.CodeStore,
	tokens storage.TokenStore,
	users storage.UserStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	srv := &Server{
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		users:   users,
		Config:  config,
		Logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("server"),
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables spans and metrics for engine operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = noop.NewTracerProvider().Tracer("server")
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

func (s *Server) now() time.Time {
	return s.Config.Clock()
}

func (s *Server) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "server."+operation)
}

// endSpan marks the span according to err. Validation outcomes are not span errors.
func endSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil || ErrorCode(err) != ErrorCodeServerError {
		instrumentation.SetSpanSuccess(span)
		return
	}
	instrumentation.RecordError(span, err)
}

// validateHTTPSEnforcement requires an https issuer except on loopback hosts
// or when AllowInsecureHTTP is set.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		hostname := issuerURL.Hostname()
		if util.IsLoopbackHostname(hostname) {
			s.Logger.Warn("Running OAuth over HTTP on localhost", "issuer", s.Config.Issuer)
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf("issuer must use HTTPS (got http://%s); set AllowInsecureHTTP to override", hostname)
		}
		s.Logger.Error("Running OAuth server over HTTP",
			"issuer", s.Config.Issuer,
			"risk", "tokens and credentials exposed to network interception")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}
