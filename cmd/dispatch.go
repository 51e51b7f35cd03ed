package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"finance-backoffice/internal/logger"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Drain pending outbox events once",
	Long: `Delivers pending ledger retry events to their consumer. Records that
exhaust their attempts move to the dead letter store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch-size")
		if batch <= 0 {
			batch = cfg.Engine.Outbox.BatchSize
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		dispatcher, err := a.dispatcher(cfg, logger.WithComponent("dispatch"))
		if err != nil {
			return err
		}
		res, err := dispatcher.Dispatch(cmd.Context(), batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "claimed=%d sent=%d failed=%d dlq=%d\n", res.Claimed, res.Sent, res.Failed, res.DLQ)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.Flags().Int("batch-size", 0, "Records to claim (default: outbox.batch_size)")
}
