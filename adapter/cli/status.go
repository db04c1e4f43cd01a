package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Storage == nil {
			return fmt.Errorf("app not initialized")
		}

		status := app.Storage.Status()
		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"initialized": status.Initialized(),
				"status":      status,
			})
		}

		fmt.Fprintf(out, "Backend:     %s\n", status.DBType)
		fmt.Fprintf(out, "State:       %s\n", status.State)
		fmt.Fprintf(out, "Connected:   %t\n", status.Connected)
		fmt.Fprintf(out, "Initialized: %t\n", status.Initialized())
		if msg := status.ErrorString(); msg != "" {
			fmt.Fprintf(out, "Last error:  %s\n", msg)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}
