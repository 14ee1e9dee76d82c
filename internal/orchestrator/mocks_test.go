package orchestrator

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"codeberg.org/d-buckner/market-agent/internal/authority"
)

// MockAuthority implements authority.ClientInterface for testing
type MockAuthority struct {
	mock.Mock
}

var _ authority.ClientInterface = (*MockAuthority)(nil)

func (m *MockAuthority) RequestInstallToken(ctx context.Context, bundleID string, isRedownload bool) (string, error) {
	args := m.Called(bundleID, isRedownload)
	return args.String(0), args.Error(1)
}

func (m *MockAuthority) RedeemPromo(ctx context.Context, session, email string) (time.Time, error) {
	args := m.Called(session, email)
	return args.Get(0).(time.Time), args.Error(1)
}

// MockActivity implements ActivityChecker for testing
type MockActivity struct {
	mock.Mock
}

func (m *MockActivity) IsActive(ctx context.Context, bundleID string) (bool, error) {
	args := m.Called(bundleID)
	return args.Bool(0), args.Error(1)
}
