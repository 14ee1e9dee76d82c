package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingInstallPrefix   = "market:pending-install:"
	defaultPendingTokenTTL = 30 * time.Minute
)

// PendingInstallStore holds install tokens between the authority exchange and the
// installer handoff, keyed by marketplace identifier. Entries expire so a killed agent
// cannot leak tokens.
type PendingInstallStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPendingInstallStore creates a new Redis-backed pending install store
func NewPendingInstallStore(redisAddr, password string, ttl time.Duration) (*PendingInstallStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newPendingInstallStore(client, ttl), nil
}

func newPendingInstallStore(client *redis.Client, ttl time.Duration) *PendingInstallStore {
	if ttl <= 0 {
		ttl = defaultPendingTokenTTL
	}
	return &PendingInstallStore{
		client: client,
		ttl:    ttl,
	}
}

func pendingKey(marketplaceID int64) string {
	return pendingInstallPrefix + strconv.FormatInt(marketplaceID, 10)
}

// Put stores the token for an install about to be handed off
func (s *PendingInstallStore) Put(ctx context.Context, marketplaceID int64, token string) error {
	if err := s.client.Set(ctx, pendingKey(marketplaceID), token, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending install: %w", err)
	}
	return nil
}

// Get returns the pending token for marketplaceID, or "" if there is none
func (s *PendingInstallStore) Get(ctx context.Context, marketplaceID int64) (string, error) {
	token, err := s.client.Get(ctx, pendingKey(marketplaceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get pending install: %w", err)
	}
	return token, nil
}

// Remove deletes the pending token for marketplaceID
func (s *PendingInstallStore) Remove(ctx context.Context, marketplaceID int64) error {
	if err := s.client.Del(ctx, pendingKey(marketplaceID)).Err(); err != nil {
		return fmt.Errorf("failed to remove pending install: %w", err)
	}
	return nil
}

// List returns every pending token by marketplace identifier
func (s *PendingInstallStore) List(ctx context.Context) (map[int64]string, error) {
	pending := make(map[int64]string)

	var cursor uint64
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pendingInstallPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending installs: %w", err)
		}

		for _, key := range keys {
			id, err := strconv.ParseInt(strings.TrimPrefix(key, pendingInstallPrefix), 10, 64)
			if err != nil {
				continue
			}
			token, err := s.client.Get(ctx, key).Result()
			if err != nil {
				// Expired between scan and get
				continue
			}
			pending[id] = token
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return pending, nil
}

// Close closes the Redis connection
func (s *PendingInstallStore) Close() error {
	return s.client.Close()
}
