package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InstalledApp is a ledger record of an app installed through the marketplace channel
type InstalledApp struct {
	BundleID      string    `json:"bundleIdentifier"`
	MarketplaceID *int64    `json:"marketplaceID,omitempty"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	BuildVersion  string    `json:"buildVersion"`
	InstalledAt   time.Time `json:"installedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LedgerStore manages installed app records in the database
type LedgerStore struct {
	db       *sql.DB
	onChange func() // Called when the ledger changes
}

// NewLedgerStore creates a new ledger store
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// SetOnChange sets a callback that fires when the ledger changes
func (s *LedgerStore) SetOnChange(fn func()) {
	s.onChange = fn
}

func (s *LedgerStore) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// GetAll returns all installed apps
func (s *LedgerStore) GetAll(ctx context.Context) ([]*InstalledApp, error) {
	return getAll(ctx, s.db)
}

// GetByBundleID returns an installed app by bundle identifier, or nil
func (s *LedgerStore) GetByBundleID(ctx context.Context, bundleID string) (*InstalledApp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT bundle_id, marketplace_id, name, version, build_version, installed_at, updated_at
		FROM installed_apps
		WHERE bundle_id = $1
	`, bundleID)

	app, err := scanInstalledApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installed app: %w", err)
	}

	return app, nil
}

// Upsert records a completed install or update
func (s *LedgerStore) Upsert(ctx context.Context, app *InstalledApp) error {
	if err := upsert(ctx, s.db, app); err != nil {
		return err
	}

	s.notify()
	return nil
}

// Delete removes an installed app record
func (s *LedgerStore) Delete(ctx context.Context, bundleID string) error {
	if err := deleteApp(ctx, s.db, bundleID); err != nil {
		return err
	}

	s.notify()
	return nil
}

// Begin starts a ledger transaction. Change callbacks fire once, after a commit that wrote.
func (s *LedgerStore) Begin(ctx context.Context) (LedgerTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &ledgerTx{tx: tx, store: s}, nil
}

type ledgerTx struct {
	tx    *sql.Tx
	store *LedgerStore
	dirty bool
}

func (t *ledgerTx) GetAll(ctx context.Context) ([]*InstalledApp, error) {
	return getAll(ctx, t.tx)
}

func (t *ledgerTx) Upsert(ctx context.Context, app *InstalledApp) error {
	if err := upsert(ctx, t.tx, app); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *ledgerTx) Delete(ctx context.Context, bundleID string) error {
	if err := deleteApp(ctx, t.tx, bundleID); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

func (t *ledgerTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if t.dirty {
		t.store.notify()
	}
	return nil
}

func (t *ledgerTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func getAll(ctx context.Context, q querier) ([]*InstalledApp, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT bundle_id, marketplace_id, name, version, build_version, installed_at, updated_at
		FROM installed_apps
		ORDER BY bundle_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query installed apps: %w", err)
	}
	defer rows.Close()

	apps := []*InstalledApp{}
	for rows.Next() {
		app, err := scanInstalledApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installed app: %w", err)
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

func upsert(ctx context.Context, q querier, app *InstalledApp) error {
	now := time.Now().UTC()
	if app.InstalledAt.IsZero() {
		app.InstalledAt = now
	}
	app.UpdatedAt = now

	var marketplaceID sql.NullInt64
	if app.MarketplaceID != nil {
		marketplaceID = sql.NullInt64{Int64: *app.MarketplaceID, Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO installed_apps (bundle_id, marketplace_id, name, version, build_version, installed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bundle_id) DO UPDATE SET
			marketplace_id = EXCLUDED.marketplace_id,
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			build_version = EXCLUDED.build_version,
			updated_at = EXCLUDED.updated_at
	`, app.BundleID, marketplaceID, app.Name, app.Version, app.BuildVersion, app.InstalledAt, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert installed app %s: %w", app.BundleID, err)
	}

	return nil
}

func deleteApp(ctx context.Context, q querier, bundleID string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM installed_apps WHERE bundle_id = $1", bundleID); err != nil {
		return fmt.Errorf("failed to delete installed app %s: %w", bundleID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstalledApp(row scanner) (*InstalledApp, error) {
	var app InstalledApp
	var marketplaceID sql.NullInt64

	err := row.Scan(
		&app.BundleID,
		&marketplaceID,
		&app.Name,
		&app.Version,
		&app.BuildVersion,
		&app.InstalledAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if marketplaceID.Valid {
		id := marketplaceID.Int64
		app.MarketplaceID = &id
	}

	return &app, nil
}
