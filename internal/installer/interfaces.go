package installer

import "context"

// ClientInterface defines the operations the orchestrator needs from the installer.
// This interface enables mocking for testing.
type ClientInterface interface {
	// InstalledApps returns the installed set keyed by marketplace identifier
	InstalledApps(ctx context.Context) (map[int64]*Metadata, error)

	// App returns the installer's state for one app
	App(ctx context.Context, marketplaceID int64) (*AppState, error)

	// Install hands a package to the installer
	Install(ctx context.Context, req InstallRequest) error

	// IsOpenable reports whether an installed app can be launched
	IsOpenable(ctx context.Context, bundleID string) (bool, error)
}

// Compile-time assertion that Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)
