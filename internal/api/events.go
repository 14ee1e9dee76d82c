package api

import (
	"context"
	"sync"

	"codeberg.org/d-buckner/market-agent/internal/store"
)

// AppEventHub manages SSE subscribers for ledger updates
type AppEventHub struct {
	subscribers map[chan []*store.InstalledApp]struct{}
	mu          sync.RWMutex
	ledger      store.LedgerInterface
}

// NewAppEventHub creates a new app event hub
func NewAppEventHub(ledger store.LedgerInterface) *AppEventHub {
	return &AppEventHub{
		subscribers: make(map[chan []*store.InstalledApp]struct{}),
		ledger:      ledger,
	}
}

// Subscribe creates a new subscription channel for ledger updates
func (h *AppEventHub) Subscribe() chan []*store.InstalledApp {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []*store.InstalledApp, 10)
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel
func (h *AppEventHub) Unsubscribe(ch chan []*store.InstalledApp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers, ch)
	close(ch)
}

// Broadcast sends the current ledger to all subscribers. It runs from the ledger's change
// callback, after the triggering request may already be gone.
func (h *AppEventHub) Broadcast() {
	apps, err := h.ledger.GetAll(context.Background())
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- apps:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *AppEventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
