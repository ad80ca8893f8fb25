package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iptu-backend/internal/batch"
	"iptu-backend/internal/captcha"
	"iptu-backend/internal/changes"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/db"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/documents"
	"iptu-backend/internal/events"
	"iptu-backend/internal/extract"
	"iptu-backend/internal/portal"
	"iptu-backend/internal/retry"
	"iptu-backend/internal/runlock"
	"iptu-backend/internal/store"
	"iptu-backend/internal/telemetry"
	"iptu-backend/lib/restyutil"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	idsFile  string
	force    bool
	headless string
)

func init() {
	runCmd.Flags().StringVar(&idsFile, "ids-file", "", "A file with one property code per line, '#' starts a comment.")
	runCmd.Flags().BoolVar(&force, "force", false, "Rewrite installments even when nothing changed.")
	runCmd.Flags().StringVar(&headless, "headless", "", "Overrides the configured headless mode (true/false).")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [property codes...]",
	Short: "Extracts debts and payment slips of the given properties, one after the other.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		if headless != "" {
			value := headless == "true" || headless == "1"
			cfg.Headless = &value
		}
		if force {
			cfg.ForceUpdate = true
		}

		ids := args
		if idsFile != "" {
			fromFile, err := readIdsFile(idsFile)
			if err != nil {
				return err
			}
			ids = append(ids, fromFile...)
		}
		ids = batch.NormalizeIds(ids)
		if len(ids) == 0 {
			return fmt.Errorf("no property codes given")
		}

		telemetry.InstrumentPerfStats(cmd.Context())
		summary, err := run(cmd.Context(), cfg, ids)
		printSummary(summary)
		if err != nil {
			return err
		}
		if summary.Failed() > 0 {
			slog.Warn("some properties failed", "failed", summary.Failed(), "total", len(summary.Results))
		}
		return nil
	},
}

func readIdsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ids file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' }) {
			ids = append(ids, field)
		}
	}
	return ids, scanner.Err()
}

func run(ctx context.Context, cfg Config, ids []string) (batch.Summary, error) {
	runId := uuid.NewString()
	tel := telemetry.NewSlogAPI(slog.Default(), runId)
	slog.Info("starting run", "run_id", runId, "properties", len(ids), "headless", cfg.IsHeadless())

	database, err := cfg.Database.OpenDB(db.Schema)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	clock := chrono.NewStandardTime()
	st := store.NewStore(database, clock, tel)

	var dumps restyutil.InstrumentOutput
	if verbose {
		output, err := restyutil.NewFilesystemOutput(cfg.HttpDumpDir)
		if err != nil {
			slog.Warn("http dumps disabled", "err", err)
		} else {
			dumps = output
		}
	}
	client, err := restyutil.NewClient(restyutil.ClientOptions{
		Timeout: seconds(cfg.Timeouts.DownloadSeconds, 30*time.Second),
		Output:  dumps,
	})
	if err != nil {
		return batch.Summary{}, err
	}

	launcher := portal.NewLauncher(portal.Options{
		Headless:          cfg.IsHeadless(),
		ExecutablePath:    cfg.BrowserPath,
		NavigationTimeout: seconds(cfg.Timeouts.NavigationSeconds, 0),
		ActionTimeout:     seconds(cfg.Timeouts.ActionSeconds, 0),
		ResultsTimeout:    seconds(cfg.Timeouts.ResultsSeconds, 0),
		Selectors:         cfg.Selectors,
	}, tel)

	engine := extract.NewEngine(
		launcher,
		extract.CaptchaDeps{
			Fetcher:    captcha.NewRestyFetcher(client),
			Transcoder: captcha.FFmpegTranscoder{Path: cfg.FFmpegPath},
			Transcriber: captcha.NewOpenAITranscriber(captcha.TranscriberOptions{
				ApiKey:   cfg.Transcription.ApiKey,
				Model:    cfg.Transcription.Model,
				Language: cfg.Transcription.Language,
			}),
			Options: captcha.Options{Settle: captcha.DefaultSettle()},
		},
		extract.Options{
			TargetUrl:        cfg.TargetUrl,
			Headless:         cfg.IsHeadless(),
			ScreenshotDir:    cfg.ScreenshotDir,
			InterceptTimeout: seconds(cfg.Timeouts.InterceptSeconds, 30*time.Second),
			RowSelector:      cfg.Selectors.ResultRow,
			ActionSelector:   cfg.Selectors.RowAction,
			Documents: documents.Options{
				Timeout: seconds(cfg.Timeouts.DownloadSeconds, documents.DefaultOptions().Timeout),
				Pause:   time.Duration(cfg.Timeouts.DownloadPauseMs) * time.Millisecond,
			},
		},
		tel,
	)

	policy := retry.DefaultPolicy(tel)
	policy.Attempts = cfg.Retry.Attempts
	policy.Backoff = time.Duration(cfg.Retry.BackoffSeconds * float64(time.Second))

	opts := batch.Options{
		RunId: runId,
		Force: cfg.ForceUpdate,
		Retry: policy,
	}

	if cfg.Redis.Url != "" {
		rdb, err := runlock.NewClient(cfg.Redis)
		if err != nil {
			return batch.Summary{}, err
		}
		defer rdb.Close()
		lock, err := runlock.Acquire(ctx, rdb, cfg.Redis)
		if err != nil {
			return batch.Summary{}, err
		}
		defer func() {
			err := lock.Release(context.WithoutCancel(ctx))
			if err != nil {
				slog.Warn("failed to release run lock", "err", err)
			}
		}()
		opts.Lock = lock

		held, stop := lock.KeepAlive(ctx, 0)
		defer stop()
		ctx = held
	}

	if cfg.Nats.Url != "" {
		publisher, err := events.NewNATSPublisher(cfg.Nats)
		if err != nil {
			return batch.Summary{}, err
		}
		defer publisher.Close()
		opts.Publisher = publisher
	}

	runner := batch.NewRunner(engine, st, changes.NewDetector(st, tel), clock, opts, tel)
	summary, err := runner.Run(ctx, ids)
	if cause := context.Cause(ctx); errors.Is(cause, runlock.ErrLost) {
		err = cause
	}
	return summary, err
}

func printSummary(summary batch.Summary) {
	if len(summary.Results) == 0 {
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"Property", "Status", "Attempts", "Installments", "Slips", "Error"})
	for _, r := range summary.Results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.PropertyId, r.Status, r.Attempts, r.Installments, r.Documents, errText})
	}
	counts := summary.Counts()
	t.AppendFooter(table.Row{
		"Total", len(summary.Results),
		fmt.Sprintf("changed %d", counts[debts.StatusSuccess]),
		fmt.Sprintf("unchanged %d", counts[debts.StatusNoChange]),
		fmt.Sprintf("no debts %d", counts[debts.StatusNoDebts]),
		fmt.Sprintf("failed %d", summary.Failed()),
	})
	t.Render()
}
