package extract

import (
	"context"
	"fmt"
	"iptu-backend/internal/assert"
	"iptu-backend/internal/captcha"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/documents"
	"iptu-backend/internal/intercept"
	"iptu-backend/internal/matcher"
	"iptu-backend/internal/telemetry"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("internal/extract")

const (
	report_session_close = "session-close"
	report_screenshot    = "screenshot"
	report_no_debts      = "no-debts"
	report_installments  = "installments"
)

const (
	// ExtractEndpoint is the url fragment of the backend call that returns a
	// property's debts.
	ExtractEndpoint = "getExtratoIPTU"
	ExtractMethod   = http.MethodPut
)

// Page is the portal page of one browser session.
type Page interface {
	captcha.Widget
	intercept.Source
	documents.Downloader

	// Navigate loads url and waits for network quiescence.
	Navigate(ctx context.Context, url string) error
	// FillPropertyCode types the code into the property input, trying the
	// fallback input when the primary one is absent.
	FillPropertyCode(ctx context.Context, code string) error
	// SubmitQuery clicks the submit control, falling back to the last button
	// on the page when the primary control is not visible.
	SubmitQuery(ctx context.Context) error
	// Content returns the rendered html of the page.
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error
}

// Session is a browser session exclusively owned by one extraction.
type Session interface {
	Page
	Close() error
}

// Opener starts a fresh browser session.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// CaptchaDeps are the page-independent collaborators of the captcha solver.
type CaptchaDeps struct {
	Fetcher     captcha.AudioFetcher
	Transcoder  captcha.Transcoder
	Transcriber captcha.Transcriber
	Options     captcha.Options
}

type Options struct {
	TargetUrl string
	Headless  bool
	// ScreenshotDir receives error_<code>.png when a headless extraction fails.
	ScreenshotDir string
	// InterceptTimeout bounds the wait for the debt extract response.
	InterceptTimeout time.Duration
	// RowSelector and ActionSelector locate the result rows exposing a
	// download action.
	RowSelector    string
	ActionSelector string
	Documents      documents.Options
}

type Engine struct {
	opener  Opener
	captcha CaptchaDeps
	opts    Options
	tel     telemetry.API
}

func NewEngine(opener Opener, captchaDeps CaptchaDeps, opts Options, tel telemetry.API) Engine {
	assert.NotNil(opener)
	assert.NotNil(captchaDeps.Fetcher)
	assert.NotNil(captchaDeps.Transcoder)
	assert.NotNil(captchaDeps.Transcriber)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.TargetUrl)
	if opts.InterceptTimeout <= 0 {
		opts.InterceptTimeout = 30 * time.Second
	}
	return Engine{
		opener:  opener,
		captcha: captchaDeps,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("extract", tel),
	}
}

// ScreenshotPath is where the diagnostic screenshot of a failed extraction
// of the property goes.
func ScreenshotPath(dir, code string) string {
	return filepath.Join(dir, fmt.Sprintf("error_%s.png", sanitizeFilename(code)))
}

func sanitizeFilename(code string) string {
	out := []rune(code)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// Extract runs one full extraction of the property in a fresh session. The
// session is closed on every path, a failed headless extraction leaves a
// screenshot behind before it is.
func (e Engine) Extract(ctx context.Context, code string) (set debts.RecordSet, err error) {
	ctx, span := tracer.Start(ctx, "Extract")
	span.SetAttributes(attribute.String("property_id", code))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "extraction failed")
		}
		span.End()
	}()

	session, err := e.opener.Open(ctx)
	if err != nil {
		return debts.RecordSet{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		closeErr := session.Close()
		if closeErr != nil {
			e.tel.ReportWarning(report_session_close, telemetry.KV{Key: "property_id", Value: code}, closeErr)
		}
	}()
	defer func() {
		if err == nil || !e.opts.Headless || e.opts.ScreenshotDir == "" {
			return
		}
		e.screenshot(session, code)
	}()

	return e.run(ctx, session, code)
}

func (e Engine) screenshot(page Page, code string) {
	err := os.MkdirAll(e.opts.ScreenshotDir, 0777)
	if err != nil {
		e.tel.ReportWarning(report_screenshot, err)
		return
	}
	path := ScreenshotPath(e.opts.ScreenshotDir, code)
	// the extraction context may be the reason we are here
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = page.Screenshot(ctx, path)
	if err != nil {
		e.tel.ReportWarning(report_screenshot, telemetry.KV{Key: "path", Value: path}, err)
		return
	}
	e.tel.ReportDebug("saved error screenshot", telemetry.KV{Key: "path", Value: path})
}

func (e Engine) run(ctx context.Context, page Page, code string) (debts.RecordSet, error) {
	set := debts.RecordSet{PropertyID: code, Installments: []debts.Installment{}}

	err := page.Navigate(ctx, e.opts.TargetUrl)
	if err != nil {
		return set, fmt.Errorf("navigate: %w", err)
	}
	err = page.FillPropertyCode(ctx, code)
	if err != nil {
		return set, fmt.Errorf("fill property code: %w", err)
	}

	solver := captcha.NewSolver(
		page,
		e.captcha.Fetcher,
		e.captcha.Transcoder,
		e.captcha.Transcriber,
		e.captcha.Options,
		e.tel,
	)
	err = solver.Solve(ctx)
	if err != nil {
		return set, err
	}

	res, err := intercept.Await(
		ctx, page,
		intercept.Match(ExtractEndpoint, ExtractMethod),
		func() error { return page.SubmitQuery(ctx) },
		e.opts.InterceptTimeout,
	)
	if err != nil {
		return set, err
	}

	switch res.Status {
	case http.StatusNoContent:
		e.tel.ReportDebug(report_no_debts, telemetry.KV{Key: "property_id", Value: code})
		return set, nil
	case http.StatusOK:
	default:
		return set, debts.HttpError{Status: res.Status}
	}

	raw, err := debts.ParseExtract(res.Body)
	if err != nil {
		return set, err
	}
	for _, r := range raw {
		set.Installments = append(set.Installments, r.Installment())
	}
	matcher.ClassifyAll(set.Installments)
	e.tel.ReportCount(report_installments, int64(len(set.Installments)))

	if !hasOpen(set.Installments) {
		return set, nil
	}

	html, err := page.Content(ctx)
	if err != nil {
		return set, fmt.Errorf("read result page: %w", err)
	}
	rows, err := matcher.ParseRows(html, e.opts.RowSelector, e.opts.ActionSelector)
	if err != nil {
		return set, err
	}
	fetcher := documents.NewFetcher(page, e.opts.Documents, e.tel)
	_, err = fetcher.FetchAll(ctx, set.Installments, rows)
	if err != nil {
		return set, err
	}
	return set, nil
}

func hasOpen(installments []debts.Installment) bool {
	for _, inst := range installments {
		if inst.Status == debts.InstallmentOpen {
			return true
		}
	}
	return false
}
