package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"codeberg.org/d-buckner/market-agent/internal/authority"
	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/orchestrator"
	"codeberg.org/d-buckner/market-agent/internal/secrets"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

// Server represents the HTTP server
type Server struct {
	router            *chi.Mux
	httpServer        *http.Server
	catalog           catalog.CacheInterface
	ledger            store.LedgerInterface
	errorLog          store.ErrorLogInterface
	appHub            *AppEventHub
	orchestrator      orchestrator.AppOrchestrator
	reconciler        orchestrator.LedgerReconciler
	authority         authority.ClientInterface
	secrets           *secrets.Manager
	marketplaceDomain string
	agentVersion      string
	osVersion         string
	port              int
	allowedOrigins    []string
	logger            *slog.Logger
}

// ServerConfig holds the server's dependencies
type ServerConfig struct {
	Port         int
	Catalog      catalog.CacheInterface
	Ledger       store.LedgerInterface
	ErrorLog     store.ErrorLogInterface
	Orchestrator orchestrator.AppOrchestrator
	Reconciler   orchestrator.LedgerReconciler // Optional, reconcile trigger answers 503 without it
	Authority    authority.ClientInterface
	Secrets      *secrets.Manager // Optional, persists promo expirations

	MarketplaceDomain string // Base of install redirect URLs
	AgentVersion      string // Sent to the installer extension
	OSVersion         string // Used to pick versions for headers and install URLs

	AllowedOrigins []string // CORS origins, defaults to the local dev frontends
}

// NewServer creates a new HTTP server instance
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	appHub := NewAppEventHub(cfg.Ledger)

	// Wire up automatic broadcasts when the ledger changes
	cfg.Ledger.SetOnChange(appHub.Broadcast)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	s := &Server{
		router:            chi.NewRouter(),
		catalog:           cfg.Catalog,
		ledger:            cfg.Ledger,
		errorLog:          cfg.ErrorLog,
		appHub:            appHub,
		orchestrator:      cfg.Orchestrator,
		reconciler:        cfg.Reconciler,
		authority:         cfg.Authority,
		secrets:           cfg.Secrets,
		marketplaceDomain: cfg.MarketplaceDomain,
		agentVersion:      cfg.AgentVersion,
		osVersion:         cfg.OSVersion,
		port:              cfg.Port,
		allowedOrigins:    origins,
		logger:            logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Request logging
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// No request timeout: installs and SSE streams are long-lived

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Start starts the HTTP server and blocks until it stops. A server stopped through
// Shutdown returns nil.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting HTTP server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
