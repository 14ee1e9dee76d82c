package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeberg.org/d-buckner/market-agent/internal/secrets"
)

// newInitSecretsCmd generates the secrets.json file if it doesn't exist.
// Should be run before the agent first starts so the client identifier is stable.
//
// If data-dir is not provided, defaults to ~/.local/share/market-agent
func newInitSecretsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-secrets [data-dir]",
		Short: "Generate the secrets file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := ""
			if len(args) > 0 {
				dataDir = args[0]
			} else {
				homeDir, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("cannot determine home directory: %w", err)
				}
				dataDir = filepath.Join(homeDir, ".local", "share", "market-agent")
			}

			return initSecrets(cmd, dataDir)
		},
	}
}

func initSecrets(cmd *cobra.Command, dataDir string) error {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", dataDir, err)
	}

	secretsPath := filepath.Join(dataDir, "secrets.json")

	// Check if secrets already exist
	if _, err := os.Stat(secretsPath); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Secrets already exist at %s\n", secretsPath)
		return nil
	}

	// Generate new secrets
	mgr := secrets.NewManager(secretsPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("failed to generate secrets: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated secrets at %s\n", secretsPath)
	return nil
}
