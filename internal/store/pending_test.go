package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPendingStore(t *testing.T) *PendingInstallStore {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping test: set TEST_REDIS_ADDR to enable Redis tests")
	}

	store, err := NewPendingInstallStore(addr, "", time.Minute)
	if err != nil {
		t.Skipf("Skipping test: Redis not available (%v)", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestPendingKey(t *testing.T) {
	assert.Equal(t, "market:pending-install:6478868316", pendingKey(6478868316))
}

func TestNewPendingInstallStore_DefaultTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	assert.Equal(t, defaultPendingTokenTTL, newPendingInstallStore(client, 0).ttl)
	assert.Equal(t, time.Minute, newPendingInstallStore(client, time.Minute).ttl)
}

func TestPendingInstallStore_Lifecycle(t *testing.T) {
	store := setupPendingStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, 101, "token-a"))
	t.Cleanup(func() { store.Remove(context.Background(), 101) })

	token, err := store.Get(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "token-a", token)

	ttl, err := store.client.TTL(ctx, pendingKey(101)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	pending, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-a", pending[101])

	require.NoError(t, store.Remove(ctx, 101))
	token, err = store.Get(ctx, 101)
	require.NoError(t, err)
	assert.Empty(t, token)
}
