package authority

import (
	"context"
	"time"
)

// ClientInterface defines the install authority operations.
// This interface enables mocking for testing.
type ClientInterface interface {
	// RequestInstallToken exchanges a bundle identifier for a one-time install token
	RequestInstallToken(ctx context.Context, bundleID string, isRedownload bool) (string, error)

	// RedeemPromo redeems a promotion session and returns its expiration
	RedeemPromo(ctx context.Context, session, email string) (time.Time, error)
}

// Compile-time assertion that Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)
