package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finance-backoffice/internal/config"
	"finance-backoffice/internal/logger"
)

var version = "0.1.0"

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "Installment billing and statement reconciliation engine",
	Long: `backoffice keeps charge installments, their audit history and the
derived financial statement in step.

Configuration comes from the environment (optionally a .env file) and the
engine YAML file named by ENGINE_CONFIG.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Setup(loaded.Log); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
