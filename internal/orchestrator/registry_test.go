package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(slog.New(slog.DiscardHandler))
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func TestRegistry_BeginTwiceReturnsExisting(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	app := &catalog.App{BundleID: "com.example.a", Name: "A"}

	first, started, err := r.Begin(ctx, NewOperation(KindInstall, app))
	require.NoError(t, err)
	assert.True(t, started)

	second, started, err := r.Begin(ctx, NewOperation(KindInstall, app))
	require.NoError(t, err)
	assert.False(t, started)
	assert.Same(t, first, second)
	assert.Same(t, first.Handle, second.Handle)

	// A different kind is a different key
	_, started, err = r.Begin(ctx, NewOperation(KindRefresh, app))
	require.NoError(t, err)
	assert.True(t, started)
}

func TestRegistry_WaitersGetOwnerResult(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	app := &catalog.App{BundleID: "com.example.a", Name: "A"}

	owner, _, err := r.Begin(ctx, NewOperation(KindInstall, app))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*store.InstalledApp, 3)
	for i := range results {
		waiter, started, err := r.Begin(ctx, NewOperation(KindInstall, app))
		require.NoError(t, err)
		require.False(t, started)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := waiter.Wait(ctx)
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}

	record := &store.InstalledApp{BundleID: "com.example.a", Version: "1.0"}
	r.Finish(owner, record, nil)
	wg.Wait()

	for _, rec := range results {
		assert.Same(t, record, rec)
	}

	active, err := r.IsActive(ctx, "com.example.a")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRegistry_FinishPropagatesError(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	app := &catalog.App{BundleID: "com.example.a", Name: "A"}

	owner, _, err := r.Begin(ctx, NewOperation(KindUpdate, app))
	require.NoError(t, err)
	waiter, _, err := r.Begin(ctx, NewOperation(KindUpdate, app))
	require.NoError(t, err)

	boom := errors.New("boom")
	r.Finish(owner, nil, boom)

	_, err = waiter.Wait(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_FinishStaleEntryIgnored(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	app := &catalog.App{BundleID: "com.example.a", Name: "A"}

	first, _, err := r.Begin(ctx, NewOperation(KindInstall, app))
	require.NoError(t, err)
	r.Finish(first, nil, nil)

	second, started, err := r.Begin(ctx, NewOperation(KindInstall, app))
	require.NoError(t, err)
	require.True(t, started)

	// Finishing the old entry again must not release the new one
	r.Finish(first, nil, errors.New("late"))

	active, err := r.IsActive(ctx, "com.example.a")
	require.NoError(t, err)
	assert.True(t, active)

	r.Finish(second, nil, nil)
}

func TestRegistry_CancelAndSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a, _, err := r.Begin(ctx, NewOperation(KindInstall, &catalog.App{BundleID: "com.example.a", Name: "A"}))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, _, err = r.Begin(ctx, NewOperation(KindUpdate, &catalog.App{BundleID: "com.example.b", Name: "B"}))
	require.NoError(t, err)

	a.Handle.SetCompletedUnitCount(40)

	ops, err := r.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "com.example.a", ops[0].BundleID)
	assert.Equal(t, int64(40), ops[0].Progress.CompletedUnitCount)
	assert.Equal(t, KindUpdate, ops[1].Kind)

	found, err := r.Cancel(ctx, KindInstall, "com.example.a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, a.Handle.IsCancelled())

	found, err = r.Cancel(ctx, KindRefresh, "com.example.a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegistry_StopReleasesWaiters(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler))
	r.Start()
	ctx := context.Background()

	owner, _, err := r.Begin(ctx, NewOperation(KindInstall, &catalog.App{BundleID: "com.example.a", Name: "A"}))
	require.NoError(t, err)

	r.Stop()

	_, err = owner.Wait(ctx)
	assert.ErrorIs(t, err, ErrRegistryStopped)

	_, _, err = r.Begin(ctx, NewOperation(KindInstall, &catalog.App{BundleID: "com.example.b", Name: "B"}))
	assert.ErrorIs(t, err, ErrRegistryStopped)

	// Finishing after stop is a no-op
	r.Finish(owner, nil, nil)
}
