// Package pledge gates installs of membership-only apps.
package pledge

import (
	"context"
	"fmt"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/operror"
	"codeberg.org/d-buckner/market-agent/internal/presenter"
)

// Confirmation decides whether the user may install app
type Confirmation interface {
	Confirm(ctx context.Context, app *catalog.App, p presenter.Presenter) error
}

// VerifierInterface is implemented by Verifier
type VerifierInterface interface {
	Verify(ctx context.Context, app *catalog.App, p presenter.Presenter) error
}

var _ VerifierInterface = (*Verifier)(nil)

// Verifier schedules a Confirmation on the shared executor and waits for its result
type Verifier struct {
	executor     *Executor
	confirmation Confirmation
}

// NewVerifier creates a verifier
func NewVerifier(executor *Executor, confirmation Confirmation) *Verifier {
	return &Verifier{
		executor:     executor,
		confirmation: confirmation,
	}
}

// Verify returns the confirmation's error verbatim, or ctx.Err() if ctx ends first
func (v *Verifier) Verify(ctx context.Context, app *catalog.App, p presenter.Presenter) error {
	result := make(chan error, 1)

	err := v.executor.Submit(ctx, func() {
		result <- v.confirmation.Confirm(ctx, app, p)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to schedule pledge verification: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PresenterConfirmation lets non-gated apps through and asks the presenter for gated ones
type PresenterConfirmation struct{}

func (PresenterConfirmation) Confirm(ctx context.Context, app *catalog.App, p presenter.Presenter) error {
	if !app.PledgeRequired {
		return nil
	}
	if p == nil {
		return operror.ErrEntitlementDenied
	}

	if err := p.ConfirmPledge(ctx, app); err != nil {
		if operror.IsCancellation(err) {
			return operror.ErrEntitlementDenied
		}
		return err
	}
	return nil
}
