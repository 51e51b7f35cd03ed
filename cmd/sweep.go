package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"finance-backoffice/internal/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one overdue sweep over every charge",
	Long: `Reclassifies charges with a waiting installment past its due date as
OVERDUE, appending one history entry per changed charge. Running it again
changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.WithComponent("sweep")
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.sweeper.Run(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Int("scanned", res.Scanned).Int("reclassified", res.Reclassified).Int("failed", res.Failed).Msg("sweep done")
		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d reclassified=%d failed=%d\n", res.Scanned, res.Reclassified, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("%d charges failed to reclassify", res.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
