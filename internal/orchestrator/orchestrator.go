// Package orchestrator runs install, update and refresh operations against the external
// installer and keeps the ledger of installed apps in line with it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/message"

	"codeberg.org/d-buckner/market-agent/internal/analytics"
	"codeberg.org/d-buckner/market-agent/internal/authority"
	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/installer"
	"codeberg.org/d-buckner/market-agent/internal/manifest"
	"codeberg.org/d-buckner/market-agent/internal/operror"
	"codeberg.org/d-buckner/market-agent/internal/pledge"
	"codeberg.org/d-buckner/market-agent/internal/presenter"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

var operationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "market_operations_total",
		Help: "Finished operations by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

func init() {
	prometheus.MustRegister(operationsTotal)
}

// Options carries per-request choices
type Options struct {
	// Version pins the version to install. nil means latest (install) or latest
	// OS-supported (update).
	Version *catalog.VersionRef

	// Presenter shows confirmations. nil runs without a presentation context: fallbacks
	// and gated apps are refused and the install confirmation is skipped.
	Presenter presenter.Presenter
}

// Orchestrator coordinates app operations through the marketplace channel
type Orchestrator struct {
	catalog         catalog.CacheInterface
	resolver        *catalog.Resolver
	ledger          store.LedgerInterface
	pending         store.PendingInstallInterface
	errorLog        store.ErrorLogInterface
	manifests       manifest.VerifierInterface
	authority       authority.ClientInterface
	pledges         pledge.VerifierInterface
	installer       installer.ClientInterface
	analytics       analytics.Tracker
	monitor         *Monitor
	registry        *Registry
	self            SelfApp
	manualUpdateURL string
	account         string
	printer         *message.Printer
	logger          *slog.Logger
}

// Config holds Orchestrator configuration
type Config struct {
	Catalog         catalog.CacheInterface
	Resolver        *catalog.Resolver
	Ledger          store.LedgerInterface
	PendingInstalls store.PendingInstallInterface
	ErrorLog        store.ErrorLogInterface // Optional
	Manifests       manifest.VerifierInterface
	Authority       authority.ClientInterface
	Pledges         pledge.VerifierInterface
	Installer       installer.ClientInterface
	Analytics       analytics.Tracker // Optional
	Monitor         MonitorConfig
	Self            SelfApp
	ManualUpdateURL string // Opened instead of updating the self app
	Account         string // Account identifier sent to the installer
	Language        string // Language for failure titles
	Logger          *slog.Logger
}

// New creates an orchestrator and starts its operation registry
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		catalog:         cfg.Catalog,
		resolver:        cfg.Resolver,
		ledger:          cfg.Ledger,
		pending:         cfg.PendingInstalls,
		errorLog:        cfg.ErrorLog,
		manifests:       cfg.Manifests,
		authority:       cfg.Authority,
		pledges:         cfg.Pledges,
		installer:       cfg.Installer,
		analytics:       cfg.Analytics,
		monitor:         NewMonitor(cfg.Installer, cfg.Monitor, cfg.Logger),
		registry:        NewRegistry(cfg.Logger),
		self:            cfg.Self,
		manualUpdateURL: cfg.ManualUpdateURL,
		account:         cfg.Account,
		printer:         operror.Printer(cfg.Language),
		logger:          cfg.Logger,
	}

	o.registry.Start()
	return o
}

// Stop shuts down the operation registry
func (o *Orchestrator) Stop() {
	o.registry.Stop()
}

// Registry returns the registry of running operations
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Run dispatches an operation of kind on the app identified by bundleID
func (o *Orchestrator) Run(ctx context.Context, kind Kind, bundleID string, opts Options) (*store.InstalledApp, error) {
	switch kind {
	case KindInstall:
		app, err := o.catalog.Get(ctx, bundleID)
		if err != nil {
			return nil, o.failLookup(ctx, kind, bundleID, bundleID, fmt.Errorf("failed to get catalog app: %w", err))
		}
		if app == nil {
			return nil, o.failLookup(ctx, kind, bundleID, bundleID, &operror.AppNotFoundError{Name: bundleID})
		}
		return o.Install(ctx, app, opts)

	case KindUpdate, KindRefresh:
		record, err := o.ledger.GetByBundleID(ctx, bundleID)
		if err != nil {
			return nil, o.failLookup(ctx, kind, bundleID, bundleID, fmt.Errorf("failed to get installed app: %w", err))
		}
		if record == nil {
			return nil, o.failLookup(ctx, kind, bundleID, bundleID, &operror.AppNotFoundError{Name: bundleID})
		}
		if kind == KindUpdate {
			return o.Update(ctx, record, opts)
		}
		return o.Refresh(ctx, record, opts)

	case KindActivate, KindDeactivate, KindBackup, KindRestore:
		name := bundleID
		if record, err := o.ledger.GetByBundleID(ctx, bundleID); err == nil && record != nil {
			name = record.Name
		}
		return nil, o.failLookup(ctx, kind, bundleID, name, &operror.UnknownError{Reason: o.printer.Sprintf(operror.MsgNotSupported, name)})

	default:
		return nil, fmt.Errorf("unknown operation kind %q", string(kind))
	}
}

// Install installs app. Installing an app that is already installed downloads it again.
func (o *Orchestrator) Install(ctx context.Context, app *catalog.App, opts Options) (*store.InstalledApp, error) {
	record, err := o.ledger.GetByBundleID(ctx, app.BundleID)
	if err != nil {
		return nil, o.failLookup(ctx, KindInstall, app.BundleID, app.Name, fmt.Errorf("failed to get installed app: %w", err))
	}

	return o.perform(ctx, NewOperation(KindInstall, app), app, record, func(ctx context.Context) (*catalog.AppVersion, error) {
		explicit, err := findExplicit(app, opts.Version)
		if err != nil {
			return nil, err
		}
		return o.resolver.Resolve(ctx, app, explicit, versionRef(record), opts.Presenter)
	}, opts, record != nil)
}

// Update installs a newer version over record
func (o *Orchestrator) Update(ctx context.Context, record *store.InstalledApp, opts Options) (*store.InstalledApp, error) {
	app, err := o.catalogApp(ctx, record)
	if err != nil {
		return nil, o.failLookup(ctx, KindUpdate, record.BundleID, record.Name, err)
	}

	return o.perform(ctx, NewOperation(KindUpdate, app), app, record, func(ctx context.Context) (*catalog.AppVersion, error) {
		explicit, err := findExplicit(app, opts.Version)
		if err != nil {
			return nil, err
		}
		if explicit == nil {
			if explicit = app.LatestSupportedVersion(o.resolver.OSVersion()); explicit == nil {
				return nil, &operror.AppNotFoundError{Name: app.Name}
			}
		}
		return o.resolver.Resolve(ctx, app, explicit, versionRef(record), opts.Presenter)
	}, opts, false)
}

// Refresh downloads the installed version of record again
func (o *Orchestrator) Refresh(ctx context.Context, record *store.InstalledApp, opts Options) (*store.InstalledApp, error) {
	app, err := o.catalogApp(ctx, record)
	if err != nil {
		return nil, o.failLookup(ctx, KindRefresh, record.BundleID, record.Name, err)
	}

	return o.perform(ctx, NewOperation(KindRefresh, app), app, record, func(ctx context.Context) (*catalog.AppVersion, error) {
		version := app.FindVersion(record.Version, record.BuildVersion)
		if version == nil {
			return nil, &operror.AppNotFoundError{Name: fmt.Sprintf("%s %s", app.Name, record.Version)}
		}
		if err := o.resolver.Verify(app, version); err != nil {
			return nil, err
		}
		return version, nil
	}, opts, true)
}

func (o *Orchestrator) catalogApp(ctx context.Context, record *store.InstalledApp) (*catalog.App, error) {
	app, err := o.catalog.Get(ctx, record.BundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog app: %w", err)
	}
	if app == nil {
		return nil, &operror.AppNotFoundError{Name: record.Name}
	}
	return app, nil
}

// perform runs op, or waits for the identical operation that is already running
func (o *Orchestrator) perform(
	ctx context.Context,
	op Operation,
	app *catalog.App,
	record *store.InstalledApp,
	resolve func(context.Context) (*catalog.AppVersion, error),
	opts Options,
	redownload bool,
) (*store.InstalledApp, error) {
	f, started, err := o.registry.Begin(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("failed to register operation: %w", err)
	}
	if !started {
		return f.Wait(ctx)
	}

	o.logger.Info("starting operation", "kind", op.Kind, "app", op.BundleID, "id", op.ID)

	result, err := o.execute(ctx, f, app, record, resolve, opts, redownload)
	if err != nil {
		err = o.fail(ctx, op, err)
	} else {
		operationsTotal.WithLabelValues(string(op.Kind), "succeeded").Inc()
		o.logger.Info("operation complete",
			"kind", op.Kind,
			"app", op.BundleID,
			"version", result.Version,
			"buildVersion", result.BuildVersion,
		)
	}

	o.registry.Finish(f, result, err)
	return result, err
}

func (o *Orchestrator) execute(
	ctx context.Context,
	f *InFlight,
	app *catalog.App,
	record *store.InstalledApp,
	resolve func(context.Context) (*catalog.AppVersion, error),
	opts Options,
	redownload bool,
) (*store.InstalledApp, error) {
	op := f.Operation
	p := opts.Presenter

	if err := o.pledges.Verify(ctx, app, p); err != nil {
		return nil, err
	}

	version, err := resolve(ctx)
	if err != nil {
		return nil, err
	}

	if app.BundleID == o.self.BundleID {
		if p != nil {
			if err := p.OpenURL(ctx, o.manualUpdateURL); err != nil {
				o.logger.Warn("failed to open manual update link", "url", o.manualUpdateURL, "error", err)
			}
		}
		return nil, &operror.ManualUpdateError{URL: o.manualUpdateURL}
	}

	if err := o.manifests.Verify(ctx, app, version); err != nil {
		return nil, err
	}

	if app.MarketplaceID == nil {
		return nil, &operror.UnknownMarketplaceIDError{Name: app.Name}
	}
	marketplaceID := *app.MarketplaceID

	tokenStored := false
	defer func() {
		if !tokenStored {
			return
		}
		// Runs after cancellation too
		if err := o.pending.Remove(context.WithoutCancel(ctx), marketplaceID); err != nil {
			o.logger.Warn("failed to remove pending install token", "app", app.BundleID, "error", err)
		}
	}()

	handoff := func(ctx context.Context) error {
		token, err := o.authority.RequestInstallToken(ctx, app.BundleID, redownload)
		if err != nil {
			return err
		}

		if err := o.pending.Put(ctx, marketplaceID, token); err != nil {
			return fmt.Errorf("failed to store install token: %w", err)
		}
		tokenStored = true

		return o.installer.Install(ctx, installer.InstallRequest{
			Account:       o.account,
			MarketplaceID: marketplaceID,
			PackageURL:    version.DownloadURL,
			IsUpdate:      record != nil,
			Token:         token,
		})
	}

	if p != nil {
		err = p.ConfirmInstall(ctx, app, version, handoff)
	} else {
		err = handoff(ctx)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("handed off to installer",
		"kind", op.Kind,
		"app", app.BundleID,
		"version", version.Version,
		"redownload", redownload,
	)

	target := Target{
		BundleID:      app.BundleID,
		MarketplaceID: marketplaceID,
		Version:       version,
		Previous:      versionRef(record),
	}
	if _, err := o.monitor.Wait(ctx, target, f.Handle); err != nil {
		return nil, err
	}

	installed := &store.InstalledApp{
		BundleID:      app.BundleID,
		MarketplaceID: &marketplaceID,
		Name:          app.Name,
		Version:       version.Version,
		BuildVersion:  version.BuildVersion,
	}
	if record != nil {
		installed.InstalledAt = record.InstalledAt
	}

	// The installer already has the app; finish bookkeeping even if the caller went away
	persistCtx := context.WithoutCancel(ctx)
	if err := o.ledger.Upsert(persistCtx, installed); err != nil {
		return nil, fmt.Errorf("failed to record installed app: %w", err)
	}

	if name, ok := op.Kind.AnalyticsEvent(); ok && o.analytics != nil {
		o.analytics.Track(persistCtx, analytics.NewAppEvent(name, installed, app, version))
	}

	return installed, nil
}

// fail titles err, counts it and forwards it to the error log. Cancellations are only
// logged.
// failLookup reports a failure that happened before the operation was registered
func (o *Orchestrator) failLookup(ctx context.Context, kind Kind, bundleID, name string, err error) error {
	return o.fail(ctx, Operation{Kind: kind, BundleID: bundleID, AppName: name}, err)
}

func (o *Orchestrator) fail(ctx context.Context, op Operation, err error) error {
	title := op.Kind.Title(op.AppName, o.printer)
	titled := operror.WithTitle(err, title)

	if operror.IsCancellation(err) {
		operationsTotal.WithLabelValues(string(op.Kind), "cancelled").Inc()
		o.logger.Info("operation cancelled", "kind", op.Kind, "app", op.BundleID, "reason", err)
		return titled
	}

	operationsTotal.WithLabelValues(string(op.Kind), "failed").Inc()
	o.logger.Error("operation failed", "kind", op.Kind, "app", op.BundleID, "title", title, "error", err)

	if o.errorLog != nil {
		entry := &store.LoggedError{
			Operation: string(op.Kind),
			BundleID:  op.BundleID,
			AppName:   op.AppName,
			Title:     title,
			Message:   err.Error(),
		}
		if logErr := o.errorLog.Log(context.WithoutCancel(ctx), entry); logErr != nil {
			o.logger.Warn("failed to persist error", "app", op.BundleID, "error", logErr)
		}
	}

	return titled
}

func findExplicit(app *catalog.App, ref *catalog.VersionRef) (*catalog.AppVersion, error) {
	if ref == nil {
		return nil, nil
	}
	if v := app.FindVersion(ref.Version, ref.BuildVersion); v != nil {
		return v, nil
	}
	// A version without a build pins the newest build of it
	if ref.BuildVersion == "" {
		for i := range app.Versions {
			if app.Versions[i].Version == ref.Version {
				return &app.Versions[i], nil
			}
		}
	}
	return nil, &operror.AppNotFoundError{Name: fmt.Sprintf("%s %s", app.Name, ref.Version)}
}

func versionRef(record *store.InstalledApp) *catalog.VersionRef {
	if record == nil {
		return nil
	}
	return &catalog.VersionRef{Version: record.Version, BuildVersion: record.BuildVersion}
}
