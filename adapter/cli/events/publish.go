package events

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billsync/adapter/cli"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

var publishEventPath string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Enqueue one billing event for the worker",
	Long: `Publish one billing event to the worker queue.

Examples:
  billsync events publish --event ./subscription_created.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Publisher == nil {
			return fmt.Errorf("publishing requires RABBITMQ_URL")
		}

		ev, err := readEvent(publishEventPath)
		if err != nil {
			return err
		}

		err = eventbus.PublishEvent(cmd.Context(), app.Publisher, &eventbus.ConsumedEvent{
			ID:      ev.ID,
			Type:    ev.Type,
			Payload: ev.Payload,
			Metadata: eventbus.EventMetadata{
				CorrelationID: observability.CorrelationIDFromContext(cmd.Context()),
				Source:        "cli",
			},
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%s)\n", ev.Type, ev.ID)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishEventPath, "event", "", "path to event JSON")
}
