// Package presenter is the boundary to whoever shows confirmations to the user.
// Operations started without a presentation context receive a nil Presenter.
package presenter

import (
	"context"
	"sync"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/operror"
)

// Presenter asks the user to confirm steps of an operation. Declining returns an error
// matching operror.ErrCancelled.
type Presenter interface {
	// ConfirmFallback offers an older version that supports this device
	ConfirmFallback(ctx context.Context, app *catalog.App, fallback *catalog.AppVersion, cause error) error

	// ConfirmPledge asks the user to confirm membership for a gated app
	ConfirmPledge(ctx context.Context, app *catalog.App) error

	// ConfirmInstall shows the final install confirmation. onConfirm runs only once the
	// user accepted, and its error is returned.
	ConfirmInstall(ctx context.Context, app *catalog.App, version *catalog.AppVersion, onConfirm func(context.Context) error) error

	// OpenURL opens a link for the user
	OpenURL(ctx context.Context, url string) error
}

// Compile-time assertion
var _ Presenter = (*Answers)(nil)

// Answers is a Presenter whose responses were collected up front, as with an API request
// that carries the user's choices.
type Answers struct {
	AcceptFallback  bool
	Confirmed       bool
	PledgeConfirmed bool

	mu     sync.Mutex
	opened []string
}

func (a *Answers) ConfirmFallback(ctx context.Context, app *catalog.App, fallback *catalog.AppVersion, cause error) error {
	if !a.AcceptFallback {
		return operror.ErrCancelled
	}
	return nil
}

func (a *Answers) ConfirmPledge(ctx context.Context, app *catalog.App) error {
	if !a.PledgeConfirmed {
		return operror.ErrCancelled
	}
	return nil
}

func (a *Answers) ConfirmInstall(ctx context.Context, app *catalog.App, version *catalog.AppVersion, onConfirm func(context.Context) error) error {
	if !a.Confirmed {
		return operror.ErrCancelled
	}
	return onConfirm(ctx)
}

// OpenURL records url so the caller can hand it to the user
func (a *Answers) OpenURL(ctx context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = append(a.opened, url)
	return nil
}

// OpenedURLs returns the links the operation asked to open
func (a *Answers) OpenedURLs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.opened...)
}
