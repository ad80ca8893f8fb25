package commands

import (
	"iptu-backend/internal/portal"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(installCmd)
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Downloads the browser driver and chromium.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return portal.Install()
	},
}
