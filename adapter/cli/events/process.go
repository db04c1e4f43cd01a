package events

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billsync/adapter/cli"
)

var processEventPath string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Apply one billing event",
	Long: `Apply one billing event directly through the ingest pipeline.

Examples:
  billsync events process --event ./invoice_payment_failed.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Processor == nil {
			return fmt.Errorf("app not initialized")
		}

		ev, err := readEvent(processEventPath)
		if err != nil {
			return err
		}

		if err := app.Processor.Process(cmd.Context(), ev); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Processed %s (%s)\n", ev.Type, ev.ID)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processEventPath, "event", "", "path to event JSON")
}
