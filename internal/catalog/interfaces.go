package catalog

import "context"

// CacheInterface defines the read queries the orchestrator and reconciler run against the
// catalog. This interface enables mocking for testing.
type CacheInterface interface {
	// Get returns an app by bundle identifier, or nil
	Get(ctx context.Context, bundleID string) (*App, error)

	// GetAll returns every cached app
	GetAll(ctx context.Context) ([]*App, error)

	// GetByMarketplaceID returns an app by marketplace identifier, or nil
	GetByMarketplaceID(ctx context.Context, marketplaceID int64) (*App, error)

	// FindVersion returns the app and the version matching (version, buildVersion) exactly
	FindVersion(ctx context.Context, bundleID, version, buildVersion string) (*App, *AppVersion, error)

	// FindByInstallKey returns the app version whose download URL encodes to key
	FindByInstallKey(ctx context.Context, key string) (*App, *AppVersion, error)

	// Refresh replaces the cached catalog
	Refresh(ctx context.Context, apps []*App) error
}

// Compile-time assertion
var _ CacheInterface = (*Cache)(nil)
