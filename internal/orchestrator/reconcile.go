package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/installer"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

// ReconcileConfig holds configuration for the reconciliation loop
type ReconcileConfig struct {
	// WatchdogInterval is how often the watchdog runs reconciliation (default: 5 minutes)
	WatchdogInterval time.Duration
}

// DefaultReconcileConfig returns default reconciliation configuration
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		WatchdogInterval: 5 * time.Minute,
	}
}

// SelfApp identifies the agent's own catalog app, which reconciliation never touches
type SelfApp struct {
	BundleID      string
	MarketplaceID int64
}

// ActivityChecker reports identifiers currently under an in-flight operation
type ActivityChecker interface {
	IsActive(ctx context.Context, bundleID string) (bool, error)
}

var _ ActivityChecker = (*Registry)(nil)

// ReconcilerConfig holds the reconciler's dependencies
type ReconcilerConfig struct {
	Installer installer.ClientInterface
	Catalog   catalog.CacheInterface
	Ledger    store.LedgerInterface
	Activity  ActivityChecker
	Self      SelfApp
	OSVersion string
	Logger    *slog.Logger
	Config    ReconcileConfig
}

// ReconcileResult summarizes one pass
type ReconcileResult struct {
	Deleted []string `json:"deleted"`
	Created []string `json:"created"`
}

// Reconciler brings the ledger in line with what the installer reports as installed.
//
// A pass runs in a single ledger transaction:
// 1. Records whose marketplace identifier is no longer installed are deleted
// 2. Installed identifiers missing from the ledger get a record from the catalog
//
// The self app and apps under an in-flight operation are skipped in both phases.
type Reconciler struct {
	installer installer.ClientInterface
	catalog   catalog.CacheInterface
	ledger    store.LedgerInterface
	activity  ActivityChecker
	self      SelfApp
	osVersion string
	logger    *slog.Logger
	config    ReconcileConfig
	stopCh    chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Config.WatchdogInterval == 0 {
		cfg.Config.WatchdogInterval = DefaultReconcileConfig().WatchdogInterval
	}

	return &Reconciler{
		installer: cfg.Installer,
		catalog:   cfg.Catalog,
		ledger:    cfg.Ledger,
		activity:  cfg.Activity,
		self:      cfg.Self,
		osVersion: cfg.OSVersion,
		logger:    cfg.Logger,
		config:    cfg.Config,
	}
}

// Reconcile runs one reconciliation pass. It is idempotent and safe to call while
// operations are in flight. On failure nothing is committed.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	r.logger.Info("starting reconciliation")
	startTime := time.Now()

	result, err := r.reconcile(ctx)
	if err != nil {
		r.logger.Error("reconciliation failed, ledger unchanged", "error", err)
		return nil, err
	}

	r.logger.Info("reconciliation complete",
		"duration", time.Since(startTime),
		"deleted", len(result.Deleted),
		"created", len(result.Created),
	)
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*ReconcileResult, error) {
	tx, err := r.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	records, err := tx.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger records: %w", err)
	}

	// Read after the ledger: an install that finished before GetAll is already listed
	installed, err := r.installer.InstalledApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get installed set: %w", err)
	}

	result := &ReconcileResult{}
	known := make(map[string]bool, len(records))
	knownIDs := make(map[int64]bool, len(records))

	for _, rec := range records {
		known[rec.BundleID] = true
		if rec.MarketplaceID == nil {
			continue
		}
		knownIDs[*rec.MarketplaceID] = true

		if rec.BundleID == r.self.BundleID {
			continue
		}
		if _, ok := installed[*rec.MarketplaceID]; ok {
			continue
		}

		active, err := r.activity.IsActive(ctx, rec.BundleID)
		if err != nil {
			return nil, fmt.Errorf("failed to check active operations: %w", err)
		}
		if active {
			r.logger.Debug("skipping actively managed app", "app", rec.BundleID)
			continue
		}

		if err := tx.Delete(ctx, rec.BundleID); err != nil {
			return nil, err
		}
		result.Deleted = append(result.Deleted, rec.BundleID)
		r.logger.Info("removing app no longer installed", "app", rec.BundleID)
	}

	ids := make([]int64, 0, len(installed))
	for id := range installed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if id == r.self.MarketplaceID || knownIDs[id] {
			continue
		}

		record, err := r.recordFor(ctx, id, installed[id])
		if err != nil {
			return nil, err
		}
		if record == nil || known[record.BundleID] {
			continue
		}

		active, err := r.activity.IsActive(ctx, record.BundleID)
		if err != nil {
			return nil, fmt.Errorf("failed to check active operations: %w", err)
		}
		if active {
			r.logger.Debug("skipping actively managed app", "app", record.BundleID)
			continue
		}

		if err := tx.Upsert(ctx, record); err != nil {
			return nil, err
		}
		result.Created = append(result.Created, record.BundleID)
		r.logger.Info("recording app installed outside the agent",
			"app", record.BundleID,
			"version", record.Version,
		)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	return result, nil
}

// recordFor builds a ledger record for an installed marketplace identifier, or nil if the
// catalog has no usable version of it
func (r *Reconciler) recordFor(ctx context.Context, marketplaceID int64, metadata *installer.Metadata) (*store.InstalledApp, error) {
	app, err := r.catalog.GetByMarketplaceID(ctx, marketplaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up marketplace app %d: %w", marketplaceID, err)
	}
	if app == nil {
		r.logger.Debug("installed app not in catalog", "marketplaceID", marketplaceID)
		return nil, nil
	}

	var version *catalog.AppVersion
	if metadata != nil {
		version = app.FindVersion(metadata.ShortVersion, metadata.BuildVersion)
	}
	if version == nil {
		version = app.LatestSupportedVersion(r.osVersion)
	}
	if version == nil {
		r.logger.Warn("no supported version for installed app", "app", app.BundleID)
		return nil, nil
	}

	id := marketplaceID
	return &store.InstalledApp{
		BundleID:      app.BundleID,
		MarketplaceID: &id,
		Name:          app.Name,
		Version:       version.Version,
		BuildVersion:  version.BuildVersion,
	}, nil
}

// StartWatchdog starts a background goroutine that reconciles on the configured interval.
// Returns immediately; the first pass runs right away.
func (r *Reconciler) StartWatchdog(ctx context.Context) {
	r.stopCh = make(chan struct{})

	go func() {
		ticker := time.NewTicker(r.config.WatchdogInterval)
		defer ticker.Stop()

		r.logger.Info("reconciliation watchdog started", "interval", r.config.WatchdogInterval)

		if _, err := r.Reconcile(ctx); err != nil {
			r.logger.Error("initial reconciliation failed", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("reconciliation watchdog stopped (context cancelled)")
				return
			case <-r.stopCh:
				r.logger.Info("reconciliation watchdog stopped")
				return
			case <-ticker.C:
				if _, err := r.Reconcile(ctx); err != nil {
					r.logger.Error("watchdog reconciliation failed", "error", err)
				}
			}
		}
	}()
}

// StopWatchdog stops the reconciliation watchdog
func (r *Reconciler) StopWatchdog() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
}
