package orchestrator

import (
	"context"
	"sync"

	"codeberg.org/d-buckner/market-agent/internal/analytics"
	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/installer"
	"codeberg.org/d-buckner/market-agent/internal/presenter"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

// Fakes are test doubles that capture calls for later inspection.
// Unlike mocks, they don't assert expectations - they just record what happened.

// ============================================================================
// FakeInstaller - Scripted external installer
// ============================================================================

// FakeInstaller serves a scripted sequence of app states. The last state repeats.
type FakeInstaller struct {
	mu        sync.Mutex
	installed map[int64]*installer.Metadata
	states    []*installer.AppState
	polls     int
	openable  bool
	installs  []installer.InstallRequest
	installFn func(req installer.InstallRequest)
	listErr   error
}

func NewFakeInstaller() *FakeInstaller {
	return &FakeInstaller{
		installed: make(map[int64]*installer.Metadata),
	}
}

func (f *FakeInstaller) SetInstalled(id int64, md *installer.Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[id] = md
}

func (f *FakeInstaller) SetStates(states ...*installer.AppState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = states
	f.polls = 0
}

func (f *FakeInstaller) OnInstall(fn func(req installer.InstallRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installFn = fn
}

func (f *FakeInstaller) InstalledApps(ctx context.Context) (map[int64]*installer.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	snapshot := make(map[int64]*installer.Metadata, len(f.installed))
	for k, v := range f.installed {
		snapshot[k] = v
	}
	return snapshot, nil
}

func (f *FakeInstaller) App(ctx context.Context, marketplaceID int64) (*installer.AppState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.states) == 0 {
		_, ok := f.installed[marketplaceID]
		return &installer.AppState{Installed: ok, Metadata: f.installed[marketplaceID]}, nil
	}

	i := f.polls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.polls++
	return f.states[i], nil
}

func (f *FakeInstaller) Install(ctx context.Context, req installer.InstallRequest) error {
	f.mu.Lock()
	f.installs = append(f.installs, req)
	fn := f.installFn
	f.mu.Unlock()

	if fn != nil {
		fn(req)
	}
	return nil
}

func (f *FakeInstaller) IsOpenable(ctx context.Context, bundleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openable, nil
}

func (f *FakeInstaller) Installs() []installer.InstallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]installer.InstallRequest(nil), f.installs...)
}

func (f *FakeInstaller) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// ============================================================================
// FakeSource - Installer progress object
// ============================================================================

// FakeSource is a settable progress.Source
type FakeSource struct {
	mu        sync.Mutex
	fraction  float64
	cancelled bool
	cancels   int
}

func NewFakeSource(fraction float64) *FakeSource {
	return &FakeSource{fraction: fraction}
}

func (s *FakeSource) Set(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fraction = fraction
}

func (s *FakeSource) FractionCompleted() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fraction
}

func (s *FakeSource) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *FakeSource) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.cancels++
}

func (s *FakeSource) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// ============================================================================
// FakeLedger - In-memory ledger with transactions
// ============================================================================

// FakeLedger keeps records in memory and counts mutations
type FakeLedger struct {
	mu        sync.Mutex
	records   map[string]*store.InstalledApp
	mutations int
	commits   int
	onChange  func()

	// beforeBegin runs when a transaction starts, simulating concurrent writers
	beforeBegin func()
}

func NewFakeLedger(records ...*store.InstalledApp) *FakeLedger {
	f := &FakeLedger{records: make(map[string]*store.InstalledApp)}
	for _, r := range records {
		f.records[r.BundleID] = r
	}
	return f
}

func (f *FakeLedger) SetOnChange(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

func (f *FakeLedger) GetAll(ctx context.Context) ([]*store.InstalledApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var apps []*store.InstalledApp
	for _, r := range f.records {
		snapshot := *r
		apps = append(apps, &snapshot)
	}
	return apps, nil
}

func (f *FakeLedger) GetByBundleID(ctx context.Context, bundleID string) (*store.InstalledApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.records[bundleID]
	if !ok {
		return nil, nil
	}
	snapshot := *r
	return &snapshot, nil
}

func (f *FakeLedger) Upsert(ctx context.Context, app *store.InstalledApp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := *app
	f.records[app.BundleID] = &snapshot
	f.mutations++
	return nil
}

func (f *FakeLedger) Delete(ctx context.Context, bundleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, bundleID)
	f.mutations++
	return nil
}

func (f *FakeLedger) Begin(ctx context.Context) (store.LedgerTx, error) {
	f.mu.Lock()
	hook := f.beforeBegin
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &fakeLedgerTx{ledger: f, upserts: make(map[string]*store.InstalledApp)}, nil
}

func (f *FakeLedger) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func (f *FakeLedger) Get(bundleID string) *store.InstalledApp {
	r, _ := f.GetByBundleID(context.Background(), bundleID)
	return r
}

// fakeLedgerTx buffers changes until Commit
type fakeLedgerTx struct {
	ledger  *FakeLedger
	upserts map[string]*store.InstalledApp
	deletes []string
	done    bool
}

func (t *fakeLedgerTx) GetAll(ctx context.Context) ([]*store.InstalledApp, error) {
	return t.ledger.GetAll(ctx)
}

func (t *fakeLedgerTx) Upsert(ctx context.Context, app *store.InstalledApp) error {
	snapshot := *app
	t.upserts[app.BundleID] = &snapshot
	return nil
}

func (t *fakeLedgerTx) Delete(ctx context.Context, bundleID string) error {
	t.deletes = append(t.deletes, bundleID)
	return nil
}

func (t *fakeLedgerTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true

	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()

	for _, id := range t.deletes {
		delete(t.ledger.records, id)
		t.ledger.mutations++
	}
	for id, r := range t.upserts {
		t.ledger.records[id] = r
		t.ledger.mutations++
	}
	t.ledger.commits++
	return nil
}

func (t *fakeLedgerTx) Rollback() error {
	t.done = true
	return nil
}

// ============================================================================
// FakeCatalog - In-memory catalog cache
// ============================================================================

// FakeCatalog serves a fixed set of apps
type FakeCatalog struct {
	mu   sync.Mutex
	apps map[string]*catalog.App
}

func NewFakeCatalog(apps ...*catalog.App) *FakeCatalog {
	f := &FakeCatalog{apps: make(map[string]*catalog.App)}
	for _, a := range apps {
		f.apps[a.BundleID] = a
	}
	return f
}

func (f *FakeCatalog) Get(ctx context.Context, bundleID string) (*catalog.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[bundleID], nil
}

func (f *FakeCatalog) GetAll(ctx context.Context) ([]*catalog.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var apps []*catalog.App
	for _, a := range f.apps {
		apps = append(apps, a)
	}
	return apps, nil
}

func (f *FakeCatalog) GetByMarketplaceID(ctx context.Context, marketplaceID int64) (*catalog.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.apps {
		if a.MarketplaceID != nil && *a.MarketplaceID == marketplaceID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *FakeCatalog) FindVersion(ctx context.Context, bundleID, version, buildVersion string) (*catalog.App, *catalog.AppVersion, error) {
	app, _ := f.Get(ctx, bundleID)
	if app == nil {
		return nil, nil, nil
	}
	return app, app.FindVersion(version, buildVersion), nil
}

func (f *FakeCatalog) FindByInstallKey(ctx context.Context, key string) (*catalog.App, *catalog.AppVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.apps {
		for i := range a.Versions {
			if catalog.InstallKey(a.Versions[i].DownloadURL) == key {
				return a, &a.Versions[i], nil
			}
		}
	}
	return nil, nil, nil
}

func (f *FakeCatalog) Refresh(ctx context.Context, apps []*catalog.App) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.apps = make(map[string]*catalog.App)
	for _, a := range apps {
		f.apps[a.BundleID] = a
	}
	return nil
}

// ============================================================================
// FakePendingInstalls - Token store
// ============================================================================

// FakePendingInstalls records every token ever stored
type FakePendingInstalls struct {
	mu      sync.Mutex
	tokens  map[int64]string
	puts    int
	removes int
}

func NewFakePendingInstalls() *FakePendingInstalls {
	return &FakePendingInstalls{tokens: make(map[int64]string)}
}

func (f *FakePendingInstalls) Put(ctx context.Context, marketplaceID int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[marketplaceID] = token
	f.puts++
	return nil
}

func (f *FakePendingInstalls) Get(ctx context.Context, marketplaceID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[marketplaceID], nil
}

func (f *FakePendingInstalls) Remove(ctx context.Context, marketplaceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, marketplaceID)
	f.removes++
	return nil
}

func (f *FakePendingInstalls) List(ctx context.Context) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make(map[int64]string, len(f.tokens))
	for k, v := range f.tokens {
		snapshot[k] = v
	}
	return snapshot, nil
}

func (f *FakePendingInstalls) Counts() (puts, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts, f.removes
}

// ============================================================================
// FakeManifests, FakePledges, FakeErrorLog, FakeTracker
// ============================================================================

// FakeManifests returns err for every verification
type FakeManifests struct {
	mu       sync.Mutex
	err      error
	verified []string
}

func (f *FakeManifests) Verify(ctx context.Context, app *catalog.App, version *catalog.AppVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, app.BundleID+"@"+version.Version)
	return f.err
}

func (f *FakeManifests) Verified() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.verified...)
}

// FakePledges returns err for every verification
type FakePledges struct {
	err error
}

func (f *FakePledges) Verify(ctx context.Context, app *catalog.App, p presenter.Presenter) error {
	return f.err
}

// FakeErrorLog captures logged errors
type FakeErrorLog struct {
	mu      sync.Mutex
	entries []*store.LoggedError
}

func (f *FakeErrorLog) Log(ctx context.Context, entry *store.LoggedError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *FakeErrorLog) Recent(ctx context.Context, limit int) ([]*store.LoggedError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.LoggedError(nil), f.entries...), nil
}

func (f *FakeErrorLog) Entries() []*store.LoggedError {
	entries, _ := f.Recent(context.Background(), 0)
	return entries
}

// FakeTracker captures analytics events
type FakeTracker struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (f *FakeTracker) Track(ctx context.Context, event analytics.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *FakeTracker) Events() []analytics.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analytics.Event(nil), f.events...)
}
