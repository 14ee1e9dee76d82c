package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/orchestrator"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

// =============================================================================
// FakeCatalog
// =============================================================================

type FakeCatalog struct {
	mu   sync.Mutex
	apps map[string]*catalog.App
}

var _ catalog.CacheInterface = (*FakeCatalog)(nil)

func NewFakeCatalog(apps ...*catalog.App) *FakeCatalog {
	c := &FakeCatalog{apps: make(map[string]*catalog.App)}
	for _, app := range apps {
		c.apps[app.BundleID] = app
	}
	return c
}

func (c *FakeCatalog) Get(ctx context.Context, bundleID string) (*catalog.App, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apps[bundleID], nil
}

func (c *FakeCatalog) GetAll(ctx context.Context) ([]*catalog.App, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	apps := make([]*catalog.App, 0, len(c.apps))
	for _, app := range c.apps {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].BundleID < apps[j].BundleID })
	return apps, nil
}

func (c *FakeCatalog) GetByMarketplaceID(ctx context.Context, marketplaceID int64) (*catalog.App, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, app := range c.apps {
		if app.MarketplaceID != nil && *app.MarketplaceID == marketplaceID {
			return app, nil
		}
	}
	return nil, nil
}

func (c *FakeCatalog) FindVersion(ctx context.Context, bundleID, version, buildVersion string) (*catalog.App, *catalog.AppVersion, error) {
	app, _ := c.Get(ctx, bundleID)
	if app == nil {
		return nil, nil, nil
	}
	return app, app.FindVersion(version, buildVersion), nil
}

func (c *FakeCatalog) FindByInstallKey(ctx context.Context, key string) (*catalog.App, *catalog.AppVersion, error) {
	apps, _ := c.GetAll(ctx)
	for _, app := range apps {
		for i := range app.Versions {
			if catalog.InstallKey(app.Versions[i].DownloadURL) == key {
				return app, &app.Versions[i], nil
			}
		}
	}
	return nil, nil, nil
}

func (c *FakeCatalog) Refresh(ctx context.Context, apps []*catalog.App) error {
	return errors.New("read-only")
}

// =============================================================================
// FakeLedger
// =============================================================================

type FakeLedger struct {
	mu       sync.Mutex
	records  map[string]*store.InstalledApp
	onChange func()
}

var _ store.LedgerInterface = (*FakeLedger)(nil)

func NewFakeLedger(records ...*store.InstalledApp) *FakeLedger {
	l := &FakeLedger{records: make(map[string]*store.InstalledApp)}
	for _, r := range records {
		l.records[r.BundleID] = r
	}
	return l
}

func (l *FakeLedger) GetAll(ctx context.Context) ([]*store.InstalledApp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	apps := make([]*store.InstalledApp, 0, len(l.records))
	for _, r := range l.records {
		apps = append(apps, r)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].BundleID < apps[j].BundleID })
	return apps, nil
}

func (l *FakeLedger) GetByBundleID(ctx context.Context, bundleID string) (*store.InstalledApp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[bundleID], nil
}

func (l *FakeLedger) Upsert(ctx context.Context, app *store.InstalledApp) error {
	l.mu.Lock()
	l.records[app.BundleID] = app
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (l *FakeLedger) Delete(ctx context.Context, bundleID string) error {
	l.mu.Lock()
	delete(l.records, bundleID)
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (l *FakeLedger) Begin(ctx context.Context) (store.LedgerTx, error) {
	return nil, errors.New("transactions not supported")
}

func (l *FakeLedger) SetOnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// =============================================================================
// FakeErrorLog
// =============================================================================

type FakeErrorLog struct {
	mu      sync.Mutex
	entries []*store.LoggedError
	limits  []int
}

var _ store.ErrorLogInterface = (*FakeErrorLog)(nil)

func (e *FakeErrorLog) Log(ctx context.Context, entry *store.LoggedError) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *FakeErrorLog) Recent(ctx context.Context, limit int) ([]*store.LoggedError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = append(e.limits, limit)
	if len(e.entries) < limit {
		limit = len(e.entries)
	}
	return e.entries[:limit], nil
}

// =============================================================================
// FakeOrchestrator
// =============================================================================

type runCall struct {
	Kind     orchestrator.Kind
	BundleID string
	Options  orchestrator.Options
}

// FakeOrchestrator answers Run with runFn and exposes a real registry
type FakeOrchestrator struct {
	mu       sync.Mutex
	registry *orchestrator.Registry
	runFn    func(ctx context.Context, kind orchestrator.Kind, bundleID string, opts orchestrator.Options) (*store.InstalledApp, error)
	calls    []runCall
}

var _ orchestrator.AppOrchestrator = (*FakeOrchestrator)(nil)

func (o *FakeOrchestrator) Run(ctx context.Context, kind orchestrator.Kind, bundleID string, opts orchestrator.Options) (*store.InstalledApp, error) {
	o.mu.Lock()
	o.calls = append(o.calls, runCall{Kind: kind, BundleID: bundleID, Options: opts})
	fn := o.runFn
	o.mu.Unlock()

	if fn == nil {
		return &store.InstalledApp{BundleID: bundleID}, nil
	}
	return fn(ctx, kind, bundleID, opts)
}

func (o *FakeOrchestrator) Registry() *orchestrator.Registry {
	return o.registry
}

func (o *FakeOrchestrator) Calls() []runCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]runCall(nil), o.calls...)
}

// =============================================================================
// FakeAuthority
// =============================================================================

type FakeAuthority struct {
	expiration time.Time
	err        error
	redeemed   []string
}

func (a *FakeAuthority) RequestInstallToken(ctx context.Context, bundleID string, isRedownload bool) (string, error) {
	return "token", nil
}

func (a *FakeAuthority) RedeemPromo(ctx context.Context, session, email string) (time.Time, error) {
	a.redeemed = append(a.redeemed, session+"/"+email)
	return a.expiration, a.err
}

// =============================================================================
// FakeReconciler
// =============================================================================

type FakeReconciler struct {
	result *orchestrator.ReconcileResult
	err    error
	passes int
}

func (r *FakeReconciler) Reconcile(ctx context.Context) (*orchestrator.ReconcileResult, error) {
	r.passes++
	return r.result, r.err
}
