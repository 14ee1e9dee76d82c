package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/d-buckner/market-agent/internal/analytics"
	"codeberg.org/d-buckner/market-agent/internal/authority"
	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/config"
	"codeberg.org/d-buckner/market-agent/internal/db"
	"codeberg.org/d-buckner/market-agent/internal/installer"
	"codeberg.org/d-buckner/market-agent/internal/manifest"
	"codeberg.org/d-buckner/market-agent/internal/orchestrator"
	"codeberg.org/d-buckner/market-agent/internal/pledge"
	"codeberg.org/d-buckner/market-agent/internal/store"
	"codeberg.org/d-buckner/market-agent/internal/system"
)

// pledgeWorkers bounds concurrent entitlement checks
const pledgeWorkers = 4

// agent holds the long-lived components shared by serve and the one-shot subcommands
type agent struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	catalog   *catalog.Cache
	ledger    *store.LedgerStore
	errorLog  *store.ErrorLogStore
	installer *installer.Client
	osVersion string

	// Set by withOperations
	pending      *store.PendingInstallStore
	authority    *authority.Client
	pledges      *pledge.Executor
	orchestrator *orchestrator.Orchestrator
	reconciler   *orchestrator.Reconciler
}

// newAgent opens the database and connects to the installer
func newAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*agent, error) {
	database, err := db.InitDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("database initialized successfully")

	inst, err := installer.NewClient(cfg.InstallerSocket)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to installer: %w", err)
	}

	osVersion, err := system.OSVersion(ctx, cfg.OSVersion)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to determine OS version: %w", err)
	}
	logger.Info("detected OS version", "os_version", osVersion)

	return &agent{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		catalog:   catalog.NewCache(database),
		ledger:    store.NewLedgerStore(database),
		errorLog:  store.NewErrorLogStore(database),
		installer: inst,
		osVersion: osVersion,
	}, nil
}

// withOperations wires the orchestrator and reconciler
func (a *agent) withOperations() error {
	cfg := a.cfg

	pending, err := store.NewPendingInstallStore(cfg.RedisAddr, cfg.RedisPassword, cfg.PendingTokenTTL)
	if err != nil {
		return err
	}
	a.pending = pending

	authorityClient, err := newAuthorityClient(cfg)
	if err != nil {
		return err
	}
	a.authority = authorityClient

	manifests, err := manifest.NewVerifier(manifest.Config{
		Language: cfg.Language,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create manifest verifier: %w", err)
	}

	a.pledges = pledge.NewExecutor(pledgeWorkers)

	a.orchestrator = orchestrator.New(orchestrator.Config{
		Catalog:         a.catalog,
		Resolver:        catalog.NewResolver(a.osVersion, a.logger),
		Ledger:          a.ledger,
		PendingInstalls: pending,
		ErrorLog:        a.errorLog,
		Manifests:       manifests,
		Authority:       authorityClient,
		Pledges:         pledge.NewVerifier(a.pledges, pledge.PresenterConfirmation{}),
		Installer:       a.installer,
		Analytics:       analytics.NewManager(a.logger),
		Monitor: orchestrator.MonitorConfig{
			FastPoll:        cfg.FastPoll,
			SlowPoll:        cfg.SlowPoll,
			MaxWait:         cfg.MaxWait,
			InstallTracking: cfg.InstallTrackingEnabled,
		},
		Self:            a.self(),
		ManualUpdateURL: cfg.ManualUpdateURL,
		Account:         cfg.AccountID,
		Language:        cfg.Language,
		Logger:          a.logger,
	})

	a.reconciler = a.newReconciler(a.orchestrator.Registry())
	return nil
}

func (a *agent) self() orchestrator.SelfApp {
	return orchestrator.SelfApp{
		BundleID:      a.cfg.SelfBundleID,
		MarketplaceID: a.cfg.SelfMarketplaceID,
	}
}

func (a *agent) newReconciler(activity orchestrator.ActivityChecker) *orchestrator.Reconciler {
	return orchestrator.NewReconciler(orchestrator.ReconcilerConfig{
		Installer: a.installer,
		Catalog:   a.catalog,
		Ledger:    a.ledger,
		Activity:  activity,
		Self:      a.self(),
		OSVersion: a.osVersion,
		Logger:    a.logger,
		Config:    orchestrator.ReconcileConfig{WatchdogInterval: a.cfg.ReconcileInterval},
	})
}

// Close releases everything the agent opened
func (a *agent) Close() {
	if a.reconciler != nil {
		a.reconciler.StopWatchdog()
	}
	if a.orchestrator != nil {
		a.orchestrator.Stop()
	}
	if a.pledges != nil {
		a.pledges.Close()
	}
	if a.pending != nil {
		if err := a.pending.Close(); err != nil {
			a.logger.Warn("failed to close Redis client", "error", err)
		}
	}
	a.db.Close()
}

func newAuthorityClient(cfg *config.Config) (*authority.Client, error) {
	client, err := authority.NewClient(authority.Config{
		BaseURL:    cfg.AuthorityURL,
		ClientID:   cfg.Secrets.GetClientID(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Pin: authority.PinConfig{
			Mode: authority.PinMode(cfg.PinMode),
			Host: cfg.PinnedHost,
			Keys: cfg.PinnedKeys,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authority client: %w", err)
	}
	return client, nil
}
