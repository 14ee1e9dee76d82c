package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"codeberg.org/d-buckner/market-agent/internal/progress"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

// ErrRegistryStopped is returned for requests sent after Stop
var ErrRegistryStopped = errors.New("operation registry stopped")

// InFlight is a running operation. Callers that did not start it wait on it.
type InFlight struct {
	Operation Operation
	Handle    *progress.Handle

	done   chan struct{}
	record *store.InstalledApp
	err    error
}

// Wait blocks until the operation finishes and returns its outcome
func (f *InFlight) Wait(ctx context.Context) (*store.InstalledApp, error) {
	select {
	case <-f.done:
		return f.record, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the operation finishes
func (f *InFlight) Done() <-chan struct{} {
	return f.done
}

// ActiveOperation is a point-in-time view of a running operation
type ActiveOperation struct {
	Operation
	Progress progress.Snapshot `json:"progress"`
}

// Registry owns the table of running operations. A single goroutine holds the table;
// every access is a request over requestCh, so two callers can never both start an
// operation for the same key.
type Registry struct {
	requestCh chan func(map[string]*InFlight)
	stopCh    chan struct{}
	stoppedCh chan struct{}
	logger    *slog.Logger
}

// NewRegistry creates a new operation registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		requestCh: make(chan func(map[string]*InFlight)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		logger:    logger,
	}
}

// Start begins the registry worker goroutine.
func (r *Registry) Start() {
	go r.worker()
}

// Stop signals the worker to stop and waits for it to finish. Operations still
// registered fail with ErrRegistryStopped for anyone waiting on them.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Registry) worker() {
	defer close(r.stoppedCh)

	entries := make(map[string]*InFlight)
	for {
		select {
		case <-r.stopCh:
			for key, f := range entries {
				f.err = ErrRegistryStopped
				close(f.done)
				delete(entries, key)
			}
			return
		case req := <-r.requestCh:
			req(entries)
		}
	}
}

// exec runs fn on the worker goroutine and waits for it
func (r *Registry) exec(ctx context.Context, fn func(map[string]*InFlight)) error {
	done := make(chan struct{})
	req := func(entries map[string]*InFlight) {
		fn(entries)
		close(done)
	}

	select {
	case r.requestCh <- req:
	case <-r.stopCh:
		return ErrRegistryStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// The worker always runs a request it received
	<-done
	return nil
}

// Begin registers op. If an operation with the same key is already running, that one is
// returned with started == false and the caller should Wait on it instead.
func (r *Registry) Begin(ctx context.Context, op Operation) (f *InFlight, started bool, err error) {
	err = r.exec(ctx, func(entries map[string]*InFlight) {
		if existing, ok := entries[op.Key()]; ok {
			f = existing
			return
		}
		f = &InFlight{
			Operation: op,
			Handle:    progress.New(progress.DefaultTotalUnits),
			done:      make(chan struct{}),
		}
		entries[op.Key()] = f
		started = true
	})
	if err != nil {
		return nil, false, err
	}

	if started {
		r.logger.Debug("operation registered", "kind", op.Kind, "app", op.BundleID, "id", op.ID)
	} else {
		r.logger.Info("operation already in flight, waiting", "kind", op.Kind, "app", op.BundleID, "id", f.Operation.ID)
	}
	return f, started, nil
}

// Finish records the outcome of f, releases its handle and wakes its waiters.
// It runs even if ctx is already cancelled.
func (r *Registry) Finish(f *InFlight, record *store.InstalledApp, opErr error) {
	err := r.exec(context.Background(), func(entries map[string]*InFlight) {
		if entries[f.Operation.Key()] != f {
			return
		}
		delete(entries, f.Operation.Key())
		f.record = record
		f.err = opErr
		close(f.done)
	})
	if err != nil {
		r.logger.Debug("registry stopped before operation finished", "app", f.Operation.BundleID)
	}
}

// IsActive reports whether any operation is running for bundleID
func (r *Registry) IsActive(ctx context.Context, bundleID string) (bool, error) {
	var active bool
	err := r.exec(ctx, func(entries map[string]*InFlight) {
		for _, f := range entries {
			if f.Operation.BundleID == bundleID {
				active = true
				return
			}
		}
	})
	return active, err
}

// Cancel cancels the running operation of kind for bundleID. It reports whether one
// was found.
func (r *Registry) Cancel(ctx context.Context, kind Kind, bundleID string) (bool, error) {
	var f *InFlight
	err := r.exec(ctx, func(entries map[string]*InFlight) {
		f = entries[OperationKey(kind, bundleID)]
	})
	if err != nil || f == nil {
		return false, err
	}

	// Outside the worker: cancelling the handle may call out to the installer
	f.Handle.Cancel()
	r.logger.Info("operation cancelled", "kind", kind, "app", bundleID, "id", f.Operation.ID)
	return true, nil
}

// Snapshot returns every running operation ordered by start time
func (r *Registry) Snapshot(ctx context.Context) ([]ActiveOperation, error) {
	var running []*InFlight
	err := r.exec(ctx, func(entries map[string]*InFlight) {
		for _, f := range entries {
			running = append(running, f)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(running, func(i, j int) bool {
		return running[i].Operation.StartedAt.Before(running[j].Operation.StartedAt)
	})

	ops := make([]ActiveOperation, 0, len(running))
	for _, f := range running {
		ops = append(ops, ActiveOperation{Operation: f.Operation, Progress: f.Handle.Snapshot()})
	}
	return ops, nil
}
