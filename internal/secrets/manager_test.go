package secrets

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_GeneratesOnFirstLoad(t *testing.T) {
	tmpDir := t.TempDir()
	secretsPath := filepath.Join(tmpDir, "secrets.json")

	m := NewManager(secretsPath)
	if err := m.Load(); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	if len(m.GetClientID()) != 32 {
		t.Errorf("expected 32 character client id, got %q", m.GetClientID())
	}
	if m.GetAccountID() != "" {
		t.Errorf("expected no account id, got %q", m.GetAccountID())
	}
	if _, ok := m.PromoExpiration(); ok {
		t.Error("expected no promo expiration")
	}

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		t.Error("secrets file not created")
	}
}

func TestManager_PersistsSecrets(t *testing.T) {
	tmpDir := t.TempDir()
	secretsPath := filepath.Join(tmpDir, "secrets.json")

	m1 := NewManager(secretsPath)
	if err := m1.Load(); err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if err := m1.SetAccountID("team-42"); err != nil {
		t.Fatalf("failed to set account id: %v", err)
	}

	expiration := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	if err := m1.SetPromoExpiration(expiration); err != nil {
		t.Fatalf("failed to set promo expiration: %v", err)
	}

	m2 := NewManager(secretsPath)
	if err := m2.Load(); err != nil {
		t.Fatalf("failed to load second time: %v", err)
	}

	if m2.GetClientID() != m1.GetClientID() {
		t.Error("clientId changed on reload")
	}
	if m2.GetAccountID() != "team-42" {
		t.Errorf("expected 'team-42', got '%s'", m2.GetAccountID())
	}

	got, ok := m2.PromoExpiration()
	if !ok {
		t.Fatal("promo expiration not persisted")
	}
	if !got.Equal(expiration) {
		t.Errorf("expected %v, got %v", expiration, got)
	}
}

func TestManager_MigratesMissingClientID(t *testing.T) {
	tmpDir := t.TempDir()
	secretsPath := filepath.Join(tmpDir, "secrets.json")

	if err := os.WriteFile(secretsPath, []byte(`{"accountId": "existing"}`), 0600); err != nil {
		t.Fatalf("failed to write partial secrets: %v", err)
	}

	m := NewManager(secretsPath)
	if err := m.Load(); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	if m.GetAccountID() != "existing" {
		t.Errorf("expected 'existing', got '%s'", m.GetAccountID())
	}
	if m.GetClientID() == "" {
		t.Error("clientId not migrated")
	}
}

func TestManager_SetBeforeLoad(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "secrets.json"))

	if err := m.SetAccountID("x"); err == nil {
		t.Error("expected error when secrets are not loaded")
	}
	if err := m.SetPromoExpiration(time.Now()); err == nil {
		t.Error("expected error when secrets are not loaded")
	}
}

func TestManager_FilePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	secretsPath := filepath.Join(tmpDir, "secrets.json")

	m := NewManager(secretsPath)
	if err := m.Load(); err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	info, err := os.Stat(secretsPath)
	if err != nil {
		t.Fatalf("failed to stat secrets file: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected permissions 0600, got %o", perm)
	}
}
