package store

import "context"

// LedgerInterface defines the interface for the installed app ledger.
// This interface enables mocking for testing.
type LedgerInterface interface {
	// GetAll returns all installed apps
	GetAll(ctx context.Context) ([]*InstalledApp, error)

	// GetByBundleID returns an installed app by bundle identifier, or nil
	GetByBundleID(ctx context.Context, bundleID string) (*InstalledApp, error)

	// Upsert records a completed install or update
	Upsert(ctx context.Context, app *InstalledApp) error

	// Delete removes an installed app record
	Delete(ctx context.Context, bundleID string) error

	// Begin starts a transaction for multi-record changes
	Begin(ctx context.Context) (LedgerTx, error)

	// SetOnChange sets a callback that fires when the ledger changes
	SetOnChange(fn func())
}

// LedgerTx is a ledger transaction. Rollback after Commit is a no-op.
type LedgerTx interface {
	GetAll(ctx context.Context) ([]*InstalledApp, error)
	Upsert(ctx context.Context, app *InstalledApp) error
	Delete(ctx context.Context, bundleID string) error
	Commit() error
	Rollback() error
}

// ErrorLogInterface persists operation failures
type ErrorLogInterface interface {
	Log(ctx context.Context, entry *LoggedError) error
	Recent(ctx context.Context, limit int) ([]*LoggedError, error)
}

// PendingInstallInterface holds install tokens until the installer handoff completes
type PendingInstallInterface interface {
	Put(ctx context.Context, marketplaceID int64, token string) error
	Get(ctx context.Context, marketplaceID int64) (string, error)
	Remove(ctx context.Context, marketplaceID int64) error
	List(ctx context.Context) (map[int64]string, error)
}

// Compile-time assertions
var (
	_ LedgerInterface         = (*LedgerStore)(nil)
	_ ErrorLogInterface       = (*ErrorLogStore)(nil)
	_ PendingInstallInterface = (*PendingInstallStore)(nil)
)
