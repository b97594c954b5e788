// Package cli defines the jobagent command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rdelgatto/jobagent/internal/config"
)

var (
	configPath string
	envFile    string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "jobagent",
	Short:         "Queue-driven job execution agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; an explicitly named one is not.
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger = config.NewLogger(os.Stdout, cfg.LogLevel)
		return nil
	},
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "jobagent.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to the .env file")
}
