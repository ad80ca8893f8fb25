package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iptu-backend/internal/assert"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/matcher"
	"iptu-backend/internal/telemetry"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("internal/documents")

func init() {
	// slips are only read, pdfcpu must not create its config dir under $HOME
	api.DisableConfigDir()
}

const (
	report_unmatched = "no-matching-row"
	report_ambiguous = "ambiguous-row"
	report_download  = "download-failed"
	report_fetched   = "documents-fetched"
)

// Downloader triggers the download action of a rendered row and returns the
// file's contents. It fails with a wrapped debts.ErrDownloadTimeout when the
// file does not arrive within timeout.
type Downloader interface {
	Download(ctx context.Context, row matcher.Row, timeout time.Duration) ([]byte, error)
}

type Options struct {
	// Timeout bounds each download.
	Timeout time.Duration
	// Pause is waited between consecutive downloads.
	Pause time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
	// Validate defaults to ValidatePDF.
	Validate func(contents []byte) error
}

func DefaultOptions() Options {
	return Options{
		Timeout: 30 * time.Second,
		Pause:   time.Second,
	}
}

// Outcome is what happened to one open installment.
type Outcome struct {
	Installment int
	// Row is -1 when no row matched.
	Row   int
	Score int
	Err   error
}

type Fetcher struct {
	downloader Downloader
	opts       Options
	tel        telemetry.API
}

func NewFetcher(downloader Downloader, opts Options, tel telemetry.API) Fetcher {
	assert.NotNil(downloader)
	assert.NotNil(tel)
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.Sleep == nil {
		opts.Sleep = chrono.Sleep
	}
	if opts.Validate == nil {
		opts.Validate = ValidatePDF
	}
	return Fetcher{
		downloader: downloader,
		opts:       opts,
		tel:        telemetry.NewScopedAPI("documents", tel),
	}
}

// FetchAll attaches a payment slip to every open installment it can match to
// a row. Installments that are not open are never downloaded. A failed
// download only leaves its installment without a document, the returned
// error is non-nil only when ctx ends.
func (f Fetcher) FetchAll(ctx context.Context, installments []debts.Installment, rows []matcher.Row) ([]Outcome, error) {
	ctx, span := tracer.Start(ctx, "FetchAll")
	defer span.End()

	assignments, unmatched := matcher.Plan(installments, rows)
	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("assignments", len(assignments)),
		attribute.Int("unmatched", len(unmatched)),
	)

	var outcomes []Outcome
	for _, u := range unmatched {
		inst := installments[u.Installment]
		f.tel.ReportWarning(
			report_unmatched,
			telemetry.KV{Key: "year", Value: inst.Year},
			telemetry.KV{Key: "installment", Value: inst.Number},
			telemetry.KV{Key: "due_date", Value: inst.DueDate},
		)
		outcomes = append(outcomes, Outcome{Installment: u.Installment, Row: -1})
	}

	fetched := 0
	for n, a := range assignments {
		if n > 0 {
			err := f.opts.Sleep(ctx, f.opts.Pause)
			if err != nil {
				return outcomes, err
			}
		}
		if a.Ambiguous {
			f.tel.ReportWarning(
				report_ambiguous,
				telemetry.KV{Key: "installment", Value: installments[a.Installment].Number},
				telemetry.KV{Key: "row", Value: a.Row.Index},
			)
		}

		outcome := Outcome{Installment: a.Installment, Row: a.Row.Index, Score: a.Score}
		contents, err := f.fetchOne(ctx, a.Row)
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, ctx.Err()
			}
			f.tel.ReportWarning(
				report_download,
				telemetry.KV{Key: "installment", Value: installments[a.Installment].Number},
				telemetry.KV{Key: "row", Value: a.Row.Index},
				err,
			)
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}
		installments[a.Installment].Document = contents
		fetched++
		outcomes = append(outcomes, outcome)
	}

	f.tel.ReportCount(report_fetched, int64(fetched))
	return outcomes, nil
}

func (f Fetcher) fetchOne(ctx context.Context, row matcher.Row) ([]byte, error) {
	contents, err := f.downloader.Download(ctx, row, f.opts.Timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", debts.ErrDownloadTimeout, err)
		}
		return nil, err
	}
	err = f.opts.Validate(contents)
	if err != nil {
		return nil, err
	}
	return contents, nil
}

var pdfMagic = []byte("%PDF-")

// ValidatePDF checks that contents is a readable pdf with at least one page.
func ValidatePDF(contents []byte) error {
	if !bytes.HasPrefix(bytes.TrimLeft(contents, "\x00\t\r\n "), pdfMagic) {
		return fmt.Errorf("%w: not a pdf (%d bytes)", debts.ErrDownloadMismatch, len(contents))
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(contents), conf)
	if err != nil {
		return fmt.Errorf("%w: %w", debts.ErrDownloadMismatch, err)
	}
	if pages == 0 {
		return fmt.Errorf("%w: pdf has no pages", debts.ErrDownloadMismatch)
	}
	return nil
}
