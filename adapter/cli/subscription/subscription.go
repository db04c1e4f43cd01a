package subscription

import "github.com/spf13/cobra"

// Cmd is the subscription command group.
var Cmd = &cobra.Command{
	Use:   "subscription",
	Short: "Inspect mirrored subscriptions",
}

func init() {
	Cmd.AddCommand(showCmd)
}
