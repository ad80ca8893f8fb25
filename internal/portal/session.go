package portal

import (
	"context"
	"errors"
	"fmt"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/extract"
	"iptu-backend/internal/intercept"
	"iptu-backend/internal/matcher"
	"iptu-backend/internal/telemetry"
	"os"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

const (
	report_fallback = "selector-fallback"
	report_no_rows  = "no-result-rows"
)

var _ extract.Session = (*Session)(nil)

// Session is one browser session.
type Session struct {
	opts      Options
	tel       telemetry.API
	responses *dispatcher

	driver  *pw.Playwright
	browser pw.Browser
	bctx    pw.BrowserContext
	page    pw.Page
}

// Close tears down the page's context, the browser and the driver, in that
// order. It is safe to call on a partially opened session.
func (s *Session) Close() error {
	var errs []error
	if s.bctx != nil {
		if err := s.bctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
		s.bctx = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	if s.driver != nil {
		if err := s.driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		s.driver = nil
	}
	return errors.Join(errs...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, pw.PageGotoOptions{
		Timeout:   pw.Float(ms(s.opts.NavigationTimeout)),
		WaitUntil: pw.WaitUntilStateNetworkidle,
	})
	if err != nil {
		return err
	}
	return nil
}

// locate returns the first element of primary, or of fallback when primary
// matches nothing.
func (s *Session) locate(primary, fallback string) (pw.Locator, error) {
	loc := s.page.Locator(primary).First()
	count, err := s.page.Locator(primary).Count()
	if err == nil && count > 0 {
		return loc, nil
	}
	s.tel.ReportDebug(report_fallback, telemetry.KV{Key: "primary", Value: primary}, telemetry.KV{Key: "fallback", Value: fallback})
	count, err = s.page.Locator(fallback).Count()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s or %s", debts.ErrElementNotFound, primary, fallback)
	}
	return s.page.Locator(fallback).First(), nil
}

func (s *Session) FillPropertyCode(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sel := s.opts.Selectors
	input, err := s.locate(sel.PropertyInput, sel.PropertyInputFallback)
	if err != nil {
		return err
	}
	return input.Fill(code)
}

func (s *Session) SubmitQuery(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sel := s.opts.Selectors
	button := s.page.Locator(sel.Submit).First()
	visible, err := button.IsVisible()
	if err != nil || !visible {
		s.tel.ReportDebug(report_fallback, telemetry.KV{Key: "primary", Value: sel.Submit}, telemetry.KV{Key: "fallback", Value: sel.SubmitFallback})
		count, err := s.page.Locator(sel.SubmitFallback).Count()
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s or %s", debts.ErrElementNotFound, sel.Submit, sel.SubmitFallback)
		}
		button = s.page.Locator(sel.SubmitFallback).Last()
	}
	return button.Click(pw.LocatorClickOptions{Force: pw.Bool(true)})
}

// Content waits a bounded time for result rows to render and returns the
// page's html either way.
func (s *Session) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := s.page.Locator(s.opts.Selectors.RowAction).First().WaitFor(pw.LocatorWaitForOptions{
		Timeout: pw.Float(ms(s.opts.ResultsTimeout)),
	})
	if err != nil {
		s.tel.ReportWarning(report_no_rows, err)
	}
	return s.page.Content()
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	_, err := s.page.Screenshot(pw.PageScreenshotOptions{
		Path:     pw.String(path),
		FullPage: pw.Bool(true),
	})
	return err
}

func (s *Session) OnResponse(fn func(intercept.Response)) func() {
	return s.responses.subscribe(fn)
}

// Download clicks the row's download action and reads the downloaded file.
func (s *Session) Download(ctx context.Context, row matcher.Row, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := s.opts.Selectors
	action := s.page.Locator(sel.ResultRow).Nth(row.Index).Locator(sel.RowAction).First()
	count, err := s.page.Locator(sel.ResultRow).Nth(row.Index).Locator(sel.RowAction).Count()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: action of row %d", debts.ErrElementNotFound, row.Index)
	}
	err = action.ScrollIntoViewIfNeeded()
	if err != nil {
		return nil, fmt.Errorf("scroll row %d: %w", row.Index, err)
	}

	start := time.Now()
	download, err := s.page.ExpectDownload(func() error {
		return action.Click(pw.LocatorClickOptions{Force: pw.Bool(true)})
	}, pw.PageExpectDownloadOptions{Timeout: pw.Float(ms(timeout))})
	if errors.Is(err, pw.ErrTimeout) {
		return nil, fmt.Errorf("%w: row %d after %s", debts.ErrDownloadTimeout, row.Index, timeout)
	}
	if err != nil {
		return nil, err
	}

	path, err := awaitFile(ctx, download, timeout-time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", row.Index, err)
	}
	defer download.Delete()

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: empty file for row %d", debts.ErrDownloadMismatch, row.Index)
	}
	return contents, nil
}

// artifact is the part of a started download that is waited on.
type artifact interface {
	// Path blocks until the file is completely written.
	Path() (string, error)
	Cancel() error
}

// awaitFile waits at most timeout for a started download to finish. An
// unfinished download is cancelled.
func awaitFile(ctx context.Context, download artifact, timeout time.Duration) (string, error) {
	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := download.Path()
		done <- result{path: path, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %w", debts.ErrDownloadTimeout, r.err)
		}
		return r.path, nil
	case <-timer.C:
		download.Cancel()
		return "", fmt.Errorf("%w: not finished after %s", debts.ErrDownloadTimeout, timeout)
	case <-ctx.Done():
		download.Cancel()
		return "", ctx.Err()
	}
}
