// Package server wires the credential store, cache, session manager,
// authentication chain and login endpoints into one HTTP server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mdornseif/authkit/pkg/audit"
	auditpg "github.com/mdornseif/authkit/pkg/audit/postgres"
	"github.com/mdornseif/authkit/pkg/authchain"
	"github.com/mdornseif/authkit/pkg/authflow"
	"github.com/mdornseif/authkit/pkg/credcache"
	"github.com/mdornseif/authkit/pkg/credential"
	credpg "github.com/mdornseif/authkit/pkg/credential/postgres"
	"github.com/mdornseif/authkit/pkg/database/migrate"
	"github.com/mdornseif/authkit/pkg/health"
	"github.com/mdornseif/authkit/pkg/session"
	sesspg "github.com/mdornseif/authkit/pkg/session/postgres"
	"github.com/mdornseif/authkit/pkg/signedtoken"
)

// Version is set at build time.
var Version = "dev"

// cleanupInterval is how often expired sessions are purged.
const cleanupInterval = 10 * time.Minute

// sessionCloser is implemented by both session store flavors.
type sessionCloser interface {
	session.Store
	StartCleanupRoutine(interval time.Duration)
	Close() error
}

// Server is one configured instance. All dependencies are owned by the
// instance; nothing lives in package state.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	db       *sql.DB // nil in memory mode
	store    credential.Store
	resolver *credcache.Resolver
	sessions *session.Manager
	sessStor sessionCloser
	chain    *authchain.Chain
	trail    audit.Recorder
	checker  *health.Checker
	router   chi.Router
}

// New builds a Server from cfg. With a database URL it runs migrations and
// uses the PostgreSQL stores; without one everything is in-memory.
func New(cfg *Config, logger *slog.Logger) (*Server, error) {
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}

	s := &Server{cfg: cfg, logger: logger}

	sessionTTL := cfg.Auth.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = session.DefaultTTL
	}

	var store credential.Store
	var sessStore sessionCloser
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		if cfg.Database.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
		if err := migrate.Run(db); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		s.db = db
		store = credpg.New(db)
		sessStore = sesspg.New(db, sesspg.Config{TTL: sessionTTL})
	} else {
		logger.Warn("no database configured, using in-memory stores")
		store = credential.NewMemoryStore()
		sessStore = session.NewMemoryStore(sessionTTL)
	}
	sessStore.StartCleanupRoutine(cleanupInterval)
	s.store = store
	s.sessStor = sessStore

	shared := credcache.NewMemoryTier()
	s.resolver = credcache.New(store, shared, credcache.Config{
		LocalTTL:        cfg.Cache.LocalTTL,
		SharedTTL:       cfg.Cache.SharedTTL,
		MaxLocalEntries: cfg.Cache.MaxLocalEntries,
	}, logger)

	s.sessions = session.NewManager(sessStore, session.ManagerConfig{
		CookieName: cfg.Auth.SessionCookie,
		TTL:        sessionTTL,
		Secure:     cfg.Server.SecureCookies,
	})

	signer := signedtoken.New([]byte(cfg.Auth.SigningKey))
	sso := authchain.NewSSOCookie(signer, authchain.SSOCookieConfig{
		Name:   cfg.Auth.SSOCookie,
		MaxAge: cfg.Auth.SSOMaxAge,
		Secure: cfg.Server.SecureCookies,
	})

	s.chain = authchain.NewChain(s.sessions, authchain.Config{LoginPath: cfg.Auth.LoginPath}, logger,
		authchain.NewSessionStrategy(s.resolver, s.sessions, sso, logger),
		authchain.NewBasicStrategy(s.resolver, s.sessions, shared, logger),
		authchain.NewSSOStrategy(s.resolver, s.sessions, sso, logger),
	)

	if s.db != nil {
		trail := auditpg.New(s.db, auditpg.Config{RetentionDays: cfg.Audit.RetentionDays})
		trail.StartCleanupRoutine(cleanupInterval)
		s.trail = trail
	} else {
		s.trail = audit.NewMemoryRecorder(0)
	}

	var oauth *authflow.OAuthConfig
	if cfg.OAuth.Enabled {
		oauth = &authflow.OAuthConfig{
			Provider:       cfg.OAuth.Provider,
			ClientID:       cfg.OAuth.ClientID,
			ClientSecret:   cfg.OAuth.ClientSecret,
			AuthEndpoint:   cfg.OAuth.AuthEndpoint,
			TokenEndpoint:  cfg.OAuth.TokenEndpoint,
			Issuer:         cfg.OAuth.Issuer,
			AllowedDomains: cfg.OAuth.AllowedDomains,
		}
	}
	flow := authflow.New(store, s.resolver, s.sessions, sso, oauth,
		credential.NewAllowlist(cfg.Auth.Permissions), s.trail, logger)

	var dep health.Pinger
	if s.db != nil {
		dep = s.db
	}
	s.checker = health.NewChecker(dep)
	s.router = s.buildRouter(flow)
	return s, nil
}

// buildRouter assembles the route tree: public health and auth endpoints,
// everything else behind the authentication chain.
func (s *Server) buildRouter(flow *authflow.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.checker.LivenessHandler())
	r.Get("/readyz", s.checker.ReadinessHandler())
	r.Route("/auth", flow.Mount)

	r.Group(func(r chi.Router) {
		r.Use(s.chain.Middleware)
		r.Get("/whoami", s.handleWhoami)
		r.Get("/credentials/list", s.handleCredentialList)
		r.Get("/audit/list", s.handleAuditList)
	})
	return r
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then drains.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.cfg.Server.Address, "version", Version)
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.checker.SetReady()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return s.Close()
}

// Close releases the server's resources.
func (s *Server) Close() error {
	var errs []error
	if s.sessStor != nil {
		errs = append(errs, s.sessStor.Close())
	}
	if s.trail != nil {
		errs = append(errs, s.trail.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the slog logger the configuration asks for.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
