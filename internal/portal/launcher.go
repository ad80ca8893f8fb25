// Package portal drives the municipal portal with playwright. Each
// extraction gets its own Session that owns the playwright driver, the
// browser, its context and the page, and tears all of them down on Close.
package portal

import (
	"context"
	"errors"
	"fmt"
	"iptu-backend/internal/extract"
	"iptu-backend/internal/telemetry"
	"iptu-backend/lib/restyutil"
	"os"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// Selectors locate the elements of the portal page. Selectors are playwright
// selectors, RowAction and ResultRow must also be plain css since the rendered
// html is parsed again with goquery.
type Selectors struct {
	PropertyInput         string `json:"property_input"`
	PropertyInputFallback string `json:"property_input_fallback"`
	Submit                string `json:"submit"`
	SubmitFallback        string `json:"submit_fallback"`
	ResultRow             string `json:"result_row"`
	RowAction             string `json:"row_action"`

	CaptchaAnchorFrame    string `json:"captcha_anchor_frame"`
	CaptchaChallengeFrame string `json:"captcha_challenge_frame"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		PropertyInput:         "xpath=//div[contains(text(), 'Código Reduzido')]/following-sibling::input",
		PropertyInputFallback: "input.form-control",
		Submit:                ".gwt-SubmitButton",
		SubmitFallback:        "button",
		ResultRow:             "tr",
		RowAction:             "a, button, img[title], .gwt-Anchor",
		CaptchaAnchorFrame:    "iframe[src*='recaptcha/api2/anchor']",
		CaptchaChallengeFrame: "iframe[src*='recaptcha/api2/bframe']",
	}
}

// Merge fills every empty selector of s from defaults.
func (s Selectors) Merge(defaults Selectors) Selectors {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Selectors{
		PropertyInput:         pick(s.PropertyInput, defaults.PropertyInput),
		PropertyInputFallback: pick(s.PropertyInputFallback, defaults.PropertyInputFallback),
		Submit:                pick(s.Submit, defaults.Submit),
		SubmitFallback:        pick(s.SubmitFallback, defaults.SubmitFallback),
		ResultRow:             pick(s.ResultRow, defaults.ResultRow),
		RowAction:             pick(s.RowAction, defaults.RowAction),
		CaptchaAnchorFrame:    pick(s.CaptchaAnchorFrame, defaults.CaptchaAnchorFrame),
		CaptchaChallengeFrame: pick(s.CaptchaChallengeFrame, defaults.CaptchaChallengeFrame),
	}
}

type Options struct {
	Headless bool
	// ExecutablePath overrides the bundled chromium, empty looks at
	// PLAYWRIGHT_EXECUTABLE_PATH.
	ExecutablePath    string
	UserAgent         string
	NavigationTimeout time.Duration
	// ActionTimeout is the default timeout of every other page action.
	ActionTimeout time.Duration
	// ResultsTimeout bounds the wait for result rows to render.
	ResultsTimeout time.Duration
	Selectors      Selectors
}

func DefaultOptions() Options {
	return Options{
		Headless:          true,
		UserAgent:         restyutil.DefaultUserAgent,
		NavigationTimeout: 60 * time.Second,
		ActionTimeout:     30 * time.Second,
		ResultsTimeout:    10 * time.Second,
		Selectors:         DefaultSelectors(),
	}
}

var launchArgs = []string{"--no-sandbox", "--disable-setuid-sandbox"}

// Install downloads the playwright driver and chromium.
func Install() error {
	return pw.Install(&pw.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  true,
	})
}

type Launcher struct {
	opts Options
	tel  telemetry.API
}

func NewLauncher(opts Options, tel telemetry.API) Launcher {
	defaults := DefaultOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaults.NavigationTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaults.ActionTimeout
	}
	if opts.ResultsTimeout <= 0 {
		opts.ResultsTimeout = defaults.ResultsTimeout
	}
	opts.Selectors = opts.Selectors.Merge(defaults.Selectors)
	if opts.ExecutablePath == "" {
		opts.ExecutablePath = os.Getenv("PLAYWRIGHT_EXECUTABLE_PATH")
	}
	return Launcher{opts: opts, tel: telemetry.NewScopedAPI("portal", tel)}
}

// Open starts a fresh driver and browser. Whatever was started before a
// failure is stopped again.
func (l Launcher) Open(ctx context.Context) (extract.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Session{opts: l.opts, tel: l.tel, responses: newDispatcher()}

	driver, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	s.driver = driver

	launch := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(l.opts.Headless),
		Args:     launchArgs,
	}
	if l.opts.ExecutablePath != "" {
		launch.ExecutablePath = pw.String(l.opts.ExecutablePath)
	}
	browser, err := driver.Chromium.Launch(launch)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("launch chromium: %w", err), s.Close())
	}
	s.browser = browser

	bctx, err := browser.NewContext(pw.BrowserNewContextOptions{
		UserAgent:       pw.String(l.opts.UserAgent),
		AcceptDownloads: pw.Bool(true),
		Locale:          pw.String("pt-BR"),
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("new context: %w", err), s.Close())
	}
	s.bctx = bctx

	page, err := bctx.NewPage()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("new page: %w", err), s.Close())
	}
	page.SetDefaultTimeout(ms(l.opts.ActionTimeout))
	page.SetDefaultNavigationTimeout(ms(l.opts.NavigationTimeout))
	page.OnResponse(func(res pw.Response) {
		s.responses.dispatch(response{res: res})
	})
	s.page = page

	return s, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
