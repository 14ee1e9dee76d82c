package orchestrator

import (
	"context"

	"codeberg.org/d-buckner/market-agent/internal/store"
)

// AppOrchestrator defines the operations the HTTP layer drives
type AppOrchestrator interface {
	// Run dispatches an operation of kind on the app identified by bundleID
	Run(ctx context.Context, kind Kind, bundleID string, opts Options) (*store.InstalledApp, error)

	// Registry returns the registry of running operations
	Registry() *Registry
}

// LedgerReconciler brings the ledger in line with the installer
type LedgerReconciler interface {
	Reconcile(ctx context.Context) (*ReconcileResult, error)
}

// Ensure types implement interfaces
var (
	_ AppOrchestrator  = (*Orchestrator)(nil)
	_ LedgerReconciler = (*Reconciler)(nil)
)
