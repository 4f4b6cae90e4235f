package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/capstore"
	"github.com/passkeep/passkeep/internal/emergency"
	"github.com/passkeep/passkeep/internal/ratelimit"
	"github.com/passkeep/passkeep/internal/share"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/internal/token"
	"github.com/passkeep/passkeep/internal/vault"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	DBUrl          string
	MigrationsDir  string
	TokenSecret    string
	AuditQueueSize int
}

// Server is the API server.
type Server struct {
	store     storage.Store
	tokens    *token.Service
	limiter   *ratelimit.Limiter
	vault     *vault.Service
	shares    *share.Service
	emergency *emergency.Service
	auditor   *audit.Sink
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, caps capstore.Store, cfg Config) *Server {
	auditor := audit.NewSink(store, cfg.AuditQueueSize)
	return &Server{
		store:     store,
		tokens:    token.New([]byte(cfg.TokenSecret), caps),
		limiter:   ratelimit.New(caps),
		vault:     vault.New(store, auditor),
		shares:    share.New(store, auditor),
		emergency: emergency.New(store, auditor),
		auditor:   auditor,
		cfg:       cfg,
	}
}

// Auditor exposes the audit sink so the process can drain it on shutdown.
func (s *Server) Auditor() *audit.Sink {
	return s.auditor
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no session required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
	})

	// Authentication endpoints, throttled hard per client IP.
	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(s.limiter, ratelimit.Auth))
		r.Post("/v1/auth/register", s.RegisterHandler)
		r.Post("/v1/auth/login", s.LoginHandler)
	})

	// Public emergency requests: the contact has no session.
	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(s.limiter, ratelimit.Emergency))
		r.Post("/v1/emergency/request/{contactID}", s.EmergencyRequestHandler)
	})

	// Public share link resolution and access.
	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(s.limiter, ratelimit.ShareAccess))
		r.Get("/v1/share/{linkID}", s.ShareInfoHandler)
		r.Post("/v1/share/{linkID}/access", s.ShareAccessHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))
		r.Use(rateLimitMiddleware(s.limiter, ratelimit.API))

		// Session
		r.Post("/v1/auth/logout", s.LogoutHandler)
		r.Get("/v1/auth/me", s.MeHandler)

		// Vault items
		r.Post("/v1/vault/items", s.ItemCreateHandler)
		r.Get("/v1/vault/items", s.ItemListHandler)
		r.Get("/v1/vault/items/{itemID}", s.ItemGetHandler)
		r.Put("/v1/vault/items/{itemID}", s.ItemUpdateHandler)
		r.Delete("/v1/vault/items/{itemID}", s.ItemDeleteHandler)

		// Share link management
		r.Post("/v1/shares", s.ShareCreateHandler)
		r.Get("/v1/shares", s.ShareListHandler)
		r.Post("/v1/shares/{linkID}/revoke", s.ShareRevokeHandler)

		// Emergency access management
		r.Post("/v1/emergency/contacts", s.ContactAddHandler)
		r.Get("/v1/emergency/contacts", s.ContactListHandler)
		r.Post("/v1/emergency/contacts/{contactID}/revoke", s.ContactRevokeHandler)
		r.Get("/v1/emergency/requests", s.EmergencyListHandler)
		r.Post("/v1/emergency/requests/{requestID}/deny", s.EmergencyDenyHandler)

		// Organization
		r.Get("/v1/org", s.OrgGetHandler)
		r.Put("/v1/org/settings", s.OrgSettingsHandler)
		r.Delete("/v1/org", s.OrgDeleteHandler)
		r.Get("/v1/org/audit", s.AuditLogHandler)
		r.Post("/v1/org/invites", s.InviteCreateHandler)
		r.Get("/v1/org/invites", s.InviteListHandler)
		r.Post("/v1/invites/accept", s.InviteAcceptHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// RefreshGauges recomputes the item and share-link gauges. Called
// periodically from the main loop.
func (s *Server) RefreshGauges(ctx context.Context) {
	if n, err := s.store.CountItems(ctx); err == nil {
		itemsTotal.Set(float64(n))
	}
	if n, err := s.store.CountActiveShareLinks(ctx); err == nil {
		activeShareLinks.Set(float64(n))
	}
}
