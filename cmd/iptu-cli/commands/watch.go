package commands

import (
	"fmt"
	"iptu-backend/internal/batch"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/telemetry"
	"log/slog"

	"github.com/spf13/cobra"
)

var schedule string

func init() {
	watchCmd.Flags().StringVar(&idsFile, "ids-file", "", "A file with one property code per line, it is re-read on every run.")
	watchCmd.Flags().StringVar(&schedule, "schedule", "", "Cron spec in America/Sao_Paulo time, overrides the configured schedule.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [property codes...]",
	Short: "Runs the extraction of the given properties on a cron schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		if schedule != "" {
			cfg.Schedule = schedule
		}
		if cfg.Schedule == "" {
			return fmt.Errorf("no schedule given (--schedule or config 'schedule')")
		}

		ctx := cmd.Context()
		telemetry.InstrumentPerfStats(ctx)
		cron := chrono.NewStandardCron(telemetry.NewSlogAPI(slog.Default(), "watch"))
		err = cron.Cron(cfg.Schedule, func() {
			ids := args
			if idsFile != "" {
				fromFile, err := readIdsFile(idsFile)
				if err != nil {
					slog.Error("skipping scheduled run", "err", err)
					return
				}
				ids = append(append([]string{}, args...), fromFile...)
			}
			ids = batch.NormalizeIds(ids)
			if len(ids) == 0 {
				slog.Warn("skipping scheduled run, no property codes")
				return
			}
			summary, err := run(ctx, cfg, ids)
			printSummary(summary)
			if err != nil {
				slog.Error("scheduled run stopped", "err", err)
			}
		})
		if err != nil {
			cron.Stop()
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}

		slog.Info("waiting for schedule", "schedule", cfg.Schedule)
		<-ctx.Done()
		<-cron.Stop().Done()
		return nil
	},
}
