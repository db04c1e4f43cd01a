package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billsync/adapter/cli"
)

var (
	showExternalID string
	showJSON       bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a subscription and its invoices",
	Long: `Show a subscription by its provider id, with its invoices.

Examples:
  billsync subscription show --external-id sub_1Nxyz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.BillingService == nil {
			return errors.New("app not initialized")
		}

		view, err := app.BillingService.GetSubscription(cmd.Context(), showExternalID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if showJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		sub := view.Subscription
		fmt.Fprintf(out, "Subscription: %s (%s)\n", sub.ExternalSubscriptionID, sub.ID)
		fmt.Fprintf(out, "User:         %s\n", sub.UserID)
		fmt.Fprintf(out, "Plan:         %s (%s)\n", sub.Plan, sub.Status)
		if !sub.CurrentPeriodEnd.IsZero() {
			fmt.Fprintf(out, "Period ends:  %s\n", sub.CurrentPeriodEnd.Format(time.RFC3339))
		}
		if sub.CancelAtPeriodEnd {
			fmt.Fprintln(out, "Cancels at period end")
		}
		fmt.Fprintf(out, "Payments:     %d recorded\n", len(sub.BillingHistory))

		if len(view.Invoices) == 0 {
			fmt.Fprintln(out, "No invoices.")
			return nil
		}
		fmt.Fprintln(out, "Invoices:")
		for _, inv := range view.Invoices {
			fmt.Fprintf(out, "  %s  %-5s  %d %s  attempts=%d\n",
				inv.ExternalInvoiceID, inv.Status, inv.Amount, inv.Currency, inv.AttemptCount)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().StringVar(&showExternalID, "external-id", "", "provider subscription id")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print as JSON")
	_ = showCmd.MarkFlagRequired("external-id")
}
