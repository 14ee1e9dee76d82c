package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache is the read side of the catalog snapshot stored in the database.
// Lookups return (nil, nil) when nothing matches.
type Cache struct {
	db *sql.DB
}

// NewCache creates a new catalog cache
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// Refresh replaces the cached catalog with apps in a single transaction
func (c *Cache) Refresh(ctx context.Context, apps []*App) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM catalog_versions"); err != nil {
		return fmt.Errorf("failed to clear catalog versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM catalog_apps"); err != nil {
		return fmt.Errorf("failed to clear catalog apps: %w", err)
	}

	appStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_apps (bundle_id, marketplace_id, yaml_content, updated_at)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer appStmt.Close()

	versionStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_versions (bundle_id, version, build_version, install_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer versionStmt.Close()

	now := time.Now()
	for _, app := range apps {
		yamlData, err := yaml.Marshal(app)
		if err != nil {
			return fmt.Errorf("failed to marshal app %s: %w", app.BundleID, err)
		}

		var marketplaceID sql.NullInt64
		if app.MarketplaceID != nil {
			marketplaceID = sql.NullInt64{Int64: *app.MarketplaceID, Valid: true}
		}

		if _, err := appStmt.ExecContext(ctx, app.BundleID, marketplaceID, string(yamlData), now); err != nil {
			return fmt.Errorf("failed to insert app %s: %w", app.BundleID, err)
		}

		for _, v := range app.Versions {
			if _, err := versionStmt.ExecContext(ctx, app.BundleID, v.Version, v.BuildVersion, InstallKey(v.DownloadURL)); err != nil {
				return fmt.Errorf("failed to insert version %s of %s: %w", v.Version, app.BundleID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetAll returns all apps from the cache
func (c *Cache) GetAll(ctx context.Context) ([]*App, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT yaml_content FROM catalog_apps ORDER BY bundle_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		var yamlContent string
		if err := rows.Scan(&yamlContent); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		app, err := unmarshalApp(yamlContent)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

// Get returns an app by bundle identifier
func (c *Cache) Get(ctx context.Context, bundleID string) (*App, error) {
	row := c.db.QueryRowContext(ctx, "SELECT yaml_content FROM catalog_apps WHERE bundle_id = $1", bundleID)
	return scanApp(row)
}

// GetByMarketplaceID returns an app by marketplace identifier
func (c *Cache) GetByMarketplaceID(ctx context.Context, marketplaceID int64) (*App, error) {
	row := c.db.QueryRowContext(ctx, "SELECT yaml_content FROM catalog_apps WHERE marketplace_id = $1", marketplaceID)
	return scanApp(row)
}

// FindVersion returns the app and its version matching (version, buildVersion) exactly
func (c *Cache) FindVersion(ctx context.Context, bundleID, version, buildVersion string) (*App, *AppVersion, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT a.yaml_content
		FROM catalog_versions v
		JOIN catalog_apps a ON a.bundle_id = v.bundle_id
		WHERE v.bundle_id = $1 AND v.version = $2 AND v.build_version = $3
	`, bundleID, version, buildVersion)

	app, err := scanApp(row)
	if err != nil || app == nil {
		return nil, nil, err
	}

	return app, app.FindVersion(version, buildVersion), nil
}

// FindByInstallKey returns the app version whose download URL encodes to key.
// When several sources host the same package the first by bundle identifier wins.
func (c *Cache) FindByInstallKey(ctx context.Context, key string) (*App, *AppVersion, error) {
	var version, buildVersion, yamlContent string
	err := c.db.QueryRowContext(ctx, `
		SELECT v.version, v.build_version, a.yaml_content
		FROM catalog_versions v
		JOIN catalog_apps a ON a.bundle_id = v.bundle_id
		WHERE v.install_key = $1
		ORDER BY v.bundle_id
		LIMIT 1
	`, key).Scan(&version, &buildVersion, &yamlContent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query version: %w", err)
	}

	app, err := unmarshalApp(yamlContent)
	if err != nil {
		return nil, nil, err
	}

	return app, app.FindVersion(version, buildVersion), nil
}

func scanApp(row *sql.Row) (*App, error) {
	var yamlContent string
	err := row.Scan(&yamlContent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query app: %w", err)
	}
	return unmarshalApp(yamlContent)
}

func unmarshalApp(yamlContent string) (*App, error) {
	var app App
	if err := yaml.Unmarshal([]byte(yamlContent), &app); err != nil {
		return nil, fmt.Errorf("failed to unmarshal app: %w", err)
	}
	return &app, nil
}
