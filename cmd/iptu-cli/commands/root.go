package commands

import (
	"context"
	devenv "iptu-backend/dev/env"
	"iptu-backend/internal/telemetry"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file, a sibling <name>.local.json5 overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enables debug logs and http dumps.")
}

var rootCmd = &cobra.Command{
	Use:           "iptu-cli",
	Short:         "iptu-cli extracts IPTU debts and payment slips of properties from the municipal portal.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		err := devenv.LoadDotEnv()
		if err != nil {
			slog.Warn("failed to load .env", "err", err)
		}
	},
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
