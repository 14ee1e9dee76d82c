package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/config"
	"codeberg.org/d-buckner/market-agent/internal/db"
	"codeberg.org/d-buckner/market-agent/internal/orchestrator"
)

// newReconcileCmd runs a single reconciliation pass and prints what changed
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the ledger in line with the installed apps once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(os.Stderr)
			cfg := config.LoadWithLogger(logger)

			a, err := newAgent(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Nothing runs in this process, so no app is actively managed
			registry := orchestrator.NewRegistry(logger)
			registry.Start()
			defer registry.Stop()

			result, err := a.newReconciler(registry).Reconcile(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

// newRedeemPromoCmd redeems a promotion and stores its expiration with the secrets
func newRedeemPromoCmd() *cobra.Command {
	var session, email string

	cmd := &cobra.Command{
		Use:   "redeem-promo",
		Short: "Redeem a promotion session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if session == "" || email == "" {
				return fmt.Errorf("--session and --email are required")
			}

			logger := newLogger(os.Stderr)
			cfg := config.LoadWithLogger(logger)

			client, err := newAuthorityClient(cfg)
			if err != nil {
				return err
			}

			expiration, err := client.RedeemPromo(cmd.Context(), session, email)
			if err != nil {
				return fmt.Errorf("failed to redeem promo: %w", err)
			}
			if err := cfg.Secrets.SetPromoExpiration(expiration); err != nil {
				return fmt.Errorf("failed to store promo expiration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "promo active until %s\n", expiration.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "promotion session identifier")
	cmd.Flags().StringVar(&email, "email", "", "email address the promotion belongs to")

	return cmd
}

// newLoadCatalogCmd replaces the cached catalog with the snapshots in a directory
func newLoadCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-catalog [dir]",
		Short: "Load catalog snapshot files into the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(os.Stderr)
			cfg := config.LoadWithLogger(logger)

			dir := cfg.CatalogDir
			if len(args) > 0 {
				dir = args[0]
			}

			// Validate before touching the database
			apps, err := catalog.NewLoader(dir).LoadAll()
			if err != nil {
				return err
			}

			database, err := db.InitDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.Close()

			if err := catalog.NewCache(database).Refresh(ctx, apps); err != nil {
				return err
			}

			logger.Info("catalog loaded", "dir", dir, "app_count", len(apps))
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d apps from %s\n", len(apps), dir)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
