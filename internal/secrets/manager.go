package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager handles generation and persistence of agent secrets.
// Secrets are generated on first run and stored in a JSON file.
type Manager struct {
	path    string
	secrets *Secrets
	mu      sync.RWMutex
}

// Secrets contains all persisted secrets for the agent.
type Secrets struct {
	// Identifies this agent to the install authority and in analytics
	ClientID string `json:"clientId"`

	// Marketplace account installs are performed for. Empty means the configured default.
	AccountID string `json:"accountId,omitempty"`

	// Expiration of the last redeemed promotion
	PromoExpiration *time.Time `json:"promoExpiration,omitempty"`
}

// NewManager creates a new secrets manager that uses the given file path.
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// Load reads secrets from file or generates new ones if the file doesn't exist.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.secrets = &Secrets{ClientID: generateSecret(32)}
			return m.saveLocked()
		}
		return fmt.Errorf("reading secrets file: %w", err)
	}

	var secrets Secrets
	if err := json.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parsing secrets file: %w", err)
	}

	m.secrets = &secrets

	// Files written before the client ID existed
	if secrets.ClientID == "" {
		secrets.ClientID = generateSecret(32)
		return m.saveLocked()
	}

	return nil
}

// saveLocked saves secrets to file. Caller must hold the lock.
func (m *Manager) saveLocked() error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}

	data, err := json.MarshalIndent(m.secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling secrets: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}

	return nil
}

// Get returns a top-level secret by name.
func (m *Manager) Get(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.secrets == nil {
		return ""
	}

	switch name {
	case "clientId":
		return m.secrets.ClientID
	case "accountId":
		return m.secrets.AccountID
	default:
		return ""
	}
}

// GetClientID returns the generated client identifier.
func (m *Manager) GetClientID() string {
	return m.Get("clientId")
}

// GetAccountID returns the stored marketplace account identifier, if any.
func (m *Manager) GetAccountID() string {
	return m.Get("accountId")
}

// SetAccountID stores the marketplace account identifier and saves to file.
func (m *Manager) SetAccountID(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secrets == nil {
		return fmt.Errorf("secrets not loaded")
	}

	m.secrets.AccountID = accountID
	return m.saveLocked()
}

// PromoExpiration returns the expiration of the last redeemed promotion.
func (m *Manager) PromoExpiration() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.secrets == nil || m.secrets.PromoExpiration == nil {
		return time.Time{}, false
	}
	return *m.secrets.PromoExpiration, true
}

// SetPromoExpiration stores a redeemed promotion's expiration and saves to file.
func (m *Manager) SetPromoExpiration(expiration time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secrets == nil {
		return fmt.Errorf("secrets not loaded")
	}

	expiration = expiration.UTC()
	m.secrets.PromoExpiration = &expiration
	return m.saveLocked()
}

// Path returns the file path where secrets are stored.
func (m *Manager) Path() string {
	return m.path
}

// generateSecret generates a cryptographically random secret of the given length.
// The result is base64 URL-encoded for safe use in headers.
func generateSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// This should never happen with crypto/rand
		panic(fmt.Sprintf("failed to generate random bytes: %v", err))
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length]
}
