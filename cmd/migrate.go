package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"finance-backoffice/internal/config"
	"finance-backoffice/internal/logger"
	"finance-backoffice/internal/migration"
	pgstore "finance-backoffice/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded Postgres migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.DriverPostgres {
			return errors.New("migrate requires STORE_DRIVER=postgres")
		}
		db, err := pgstore.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := migration.Apply(cmd.Context(), db, logger.WithComponent("migrate"))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", applied)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
