package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/d-buckner/market-agent/internal/api"
	"codeberg.org/d-buckner/market-agent/internal/config"
)

func runServer(parent context.Context) error {
	logger := newLogger(os.Stdout)
	logger.Info("starting market agent", "version", Version)

	cfg := config.LoadWithLogger(logger)
	logger.Info("loaded configuration",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"installer_socket", cfg.InstallerSocket,
		"authority_url", cfg.AuthorityURL,
		"pin_mode", cfg.PinMode,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withOperations(); err != nil {
		return err
	}

	// Catch up with installs and removals that happened while the agent was down
	if _, err := a.reconciler.Reconcile(ctx); err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	}
	if cfg.ReconcileInterval > 0 {
		a.reconciler.StartWatchdog(ctx)
	}

	server := api.NewServer(api.ServerConfig{
		Port:              cfg.Port,
		Catalog:           a.catalog,
		Ledger:            a.ledger,
		ErrorLog:          a.errorLog,
		Orchestrator:      a.orchestrator,
		Reconciler:        a.reconciler,
		Authority:         a.authority,
		Secrets:           cfg.Secrets,
		MarketplaceDomain: cfg.MarketplaceDomain,
		AgentVersion:      Version,
		OSVersion:         a.osVersion,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
