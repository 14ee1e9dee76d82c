package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/operror"
	"codeberg.org/d-buckner/market-agent/internal/orchestrator"
	"codeberg.org/d-buckner/market-agent/internal/presenter"
	"codeberg.org/d-buckner/market-agent/internal/store"
	"codeberg.org/d-buckner/market-agent/internal/system"
)

const defaultErrorLimit = 50

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/apps", func(r chi.Router) {
			r.Get("/installed", s.handleListInstalledApps)
			r.Get("/events", s.handleAppEvents)
			r.Get("/{bundleID}/install-url", s.handleInstallURL)

			for _, kind := range orchestrator.Kinds {
				r.Post("/{bundleID}/"+string(kind), s.handleOperation(kind))
			}
		})

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", s.handleListOperations)
			r.Get("/events", s.handleOperationEvents)
			r.Delete("/{kind}/{bundleID}", s.handleCancelOperation)
		})

		r.Post("/installed-apps/changed", s.handleInstalledAppsChanged)
		r.Post("/promo/redeem", s.handleRedeemPromo)
		r.Get("/errors", s.handleListErrors)
		r.Get("/installer/headers", s.handleInstallerHeaders)
	})
}

// handleHealth returns the health status of the service
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.agentVersion,
		"osVersion": s.osVersion,
		"system":    system.GetStats(r.Context()),
	})
}

// handleListInstalledApps returns the ledger.
// Uses the same data source as SSE for consistency
func (s *Server) handleListInstalledApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.ledger.GetAll(r.Context())
	if err != nil {
		s.logger.Error("failed to get installed apps", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get installed apps")
		return
	}
	if apps == nil {
		apps = []*store.InstalledApp{}
	}

	respondJSON(w, http.StatusOK, apps)
}

// operationRequest carries the user's answers for an operation started over HTTP
type operationRequest struct {
	Version         string `json:"version"`
	BuildVersion    string `json:"buildVersion"`
	AcceptFallback  bool   `json:"acceptFallback"`
	Confirmed       bool   `json:"confirmed"`
	PledgeConfirmed bool   `json:"pledgeConfirmed"`
}

// operationResponse is returned for finished and cancelled operations alike
type operationResponse struct {
	App       *store.InstalledApp `json:"app,omitempty"`
	Cancelled bool                `json:"cancelled,omitempty"`
	Title     string              `json:"title,omitempty"`
	Error     string              `json:"error,omitempty"`
	OpenURLs  []string            `json:"openURLs,omitempty"`
}

// handleOperation runs an operation of kind and waits for its outcome
func (s *Server) handleOperation(kind orchestrator.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundleID := chi.URLParam(r, "bundleID")

		var req operationRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		answers := &presenter.Answers{
			AcceptFallback:  req.AcceptFallback,
			Confirmed:       req.Confirmed,
			PledgeConfirmed: req.PledgeConfirmed,
		}
		opts := orchestrator.Options{Presenter: answers}
		if req.Version != "" {
			opts.Version = &catalog.VersionRef{Version: req.Version, BuildVersion: req.BuildVersion}
		}

		record, err := s.orchestrator.Run(r.Context(), kind, bundleID, opts)
		resp := operationResponse{App: record, OpenURLs: answers.OpenedURLs()}

		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, resp)
		case operror.IsCancellation(err):
			// Cancellations are silent, the caller decides whether to say anything
			resp.Cancelled = true
			resp.Title = operror.Title(err)
			resp.Error = err.Error()
			respondJSON(w, http.StatusOK, resp)
		default:
			resp.Title = operror.Title(err)
			resp.Error = err.Error()
			respondJSON(w, statusFor(err), resp)
		}
	}
}

// handleListOperations returns the running operations
func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := s.orchestrator.Registry().Snapshot(r.Context())
	if err != nil {
		s.logger.Error("failed to list operations", "error", err)
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if ops == nil {
		ops = []orchestrator.ActiveOperation{}
	}

	respondJSON(w, http.StatusOK, ops)
}

// handleCancelOperation cancels a running operation
func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	kind, err := orchestrator.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	bundleID := chi.URLParam(r, "bundleID")

	found, err := s.orchestrator.Registry().Cancel(r.Context(), kind, bundleID)
	if err != nil {
		s.logger.Error("failed to cancel operation", "kind", kind, "app", bundleID, "error", err)
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "no running operation")
		return
	}

	s.logger.Info("operation cancelled", "kind", kind, "app", bundleID)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "cancelling",
		"kind":   string(kind),
		"app":    bundleID,
	})
}

// handleInstalledAppsChanged runs a reconciliation pass after the installer reported a
// change to the installed set
func (s *Server) handleInstalledAppsChanged(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, "reconciler not available")
		return
	}

	result, err := s.reconciler.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleRedeemPromo redeems a promotion session and stores its expiration
func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Session string `json:"session"`
		Email   string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Session == "" || req.Email == "" {
		respondError(w, http.StatusBadRequest, "session and email are required")
		return
	}

	expiration, err := s.authority.RedeemPromo(r.Context(), req.Session, req.Email)
	if err != nil {
		s.logger.Error("failed to redeem promo", "error", err)
		respondError(w, statusFor(err), err.Error())
		return
	}

	if s.secrets != nil {
		if err := s.secrets.SetPromoExpiration(expiration); err != nil {
			s.logger.Error("failed to store promo expiration", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to store promo expiration")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"expiration": expiration.UTC().Format(time.RFC3339),
	})
}

// handleListErrors returns the most recent operation failures
func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	limit := defaultErrorLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.errorLog.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to get logged errors", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get logged errors")
		return
	}
	if entries == nil {
		entries = []*store.LoggedError{}
	}

	respondJSON(w, http.StatusOK, entries)
}

// handleInstallURL returns the marketplace redirect URL for an app version. Without an
// explicit version the latest version supporting this device is used.
func (s *Server) handleInstallURL(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")

	app, err := s.catalog.Get(r.Context(), bundleID)
	if err != nil {
		s.logger.Error("failed to get catalog app", "app", bundleID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get app")
		return
	}
	if app == nil {
		respondError(w, http.StatusNotFound, "app not found")
		return
	}

	var version *catalog.AppVersion
	if v := r.URL.Query().Get("version"); v != "" {
		version = app.FindVersion(v, r.URL.Query().Get("buildVersion"))
	} else {
		version = app.LatestSupportedVersion(s.osVersion)
	}
	if version == nil {
		respondError(w, http.StatusNotFound, "version not found")
		return
	}

	installURL, err := catalog.InstallURL(s.marketplaceDomain, version.DownloadURL)
	if err != nil {
		s.logger.Error("failed to build install url", "app", bundleID, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"app":     bundleID,
		"version": version.Version,
		"url":     installURL,
	})
}

// Helper functions for JSON responses

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
