package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"reportsync/internal/config"
	"reportsync/internal/logging"
)

// PlaywrightDriver launches Chromium through playwright-go.
type PlaywrightDriver struct {
	cfg    config.BrowserConfig
	logger logging.Logger
}

func NewPlaywrightDriver(cfg config.BrowserConfig, logger logging.Logger) *PlaywrightDriver {
	if logger == nil {
		logger = logging.New("browser")
	}
	return &PlaywrightDriver{cfg: cfg, logger: logger}
}

// InstallPlaywright downloads the driver and Chromium. Only needed once per
// host.
func InstallPlaywright() error {
	return pw.Install(&pw.RunOptions{
		Browsers: []string{"chromium"},
	})
}

func (d *PlaywrightDriver) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pwInstance, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start Playwright: %v", err)
	}

	launchOptions := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(d.cfg.Headless),
	}
	if executablePath := resolveExecutable(d.cfg.ExecutablePath); executablePath != "" {
		launchOptions.ExecutablePath = &executablePath
		d.logger.Printf("🚀 Using browser executable: %s", executablePath)
	}

	browser, err := pwInstance.Chromium.Launch(launchOptions)
	if err != nil {
		_ = pwInstance.Stop()
		return nil, fmt.Errorf("failed to launch browser: %v", err)
	}

	bctx, err := browser.NewContext(pw.BrowserNewContextOptions{
		AcceptDownloads: pw.Bool(true),
		Viewport: &pw.Size{
			Width:  d.cfg.ViewportWidth,
			Height: d.cfg.ViewportHeight,
		},
	})
	if err != nil {
		_ = browser.Close()
		_ = pwInstance.Stop()
		return nil, fmt.Errorf("failed to create browser context: %v", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pwInstance.Stop()
		return nil, fmt.Errorf("failed to create page: %v", err)
	}

	return &playwrightSession{
		pw:      pwInstance,
		browser: browser,
		bctx:    bctx,
		page:    &playwrightPage{page: page},
	}, nil
}

// resolveExecutable prefers the configured binary, then common system paths.
// An empty result lets playwright use its bundled Chromium.
func resolveExecutable(configured string) string {
	if configured != "" {
		return configured
	}
	commonPaths := []string{
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/bin/google-chrome",
		"/usr/bin/chromium-browser",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

type playwrightSession struct {
	pw      *pw.Playwright
	browser pw.Browser
	bctx    pw.BrowserContext
	page    *playwrightPage
}

func (s *playwrightSession) Page() Page { return s.page }

func (s *playwrightSession) Close() error {
	var errs []error
	if err := s.bctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	page pw.Page
}

func ms(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return pw.Float(float64(d.Milliseconds()))
}

func pwErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pw.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (p *playwrightPage) locator(loc Locator) pw.Locator {
	var l pw.Locator
	switch {
	case loc.Role != "":
		opts := pw.PageGetByRoleOptions{}
		if loc.Name != "" {
			opts.Name = loc.Name
		}
		l = p.page.GetByRole(pw.AriaRole(loc.Role), opts)
	case loc.Placeholder != "":
		l = p.page.GetByPlaceholder(loc.Placeholder)
	case loc.Text != "":
		l = p.page.GetByText(loc.Text)
	default:
		l = p.page.Locator(loc.CSS)
	}
	return l.Nth(loc.Nth)
}

func (p *playwrightPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateLoad,
		Timeout:   ms(timeout),
	})
	return pwErr(err)
}

func (p *playwrightPage) WaitForSettle(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pwErr(p.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   pw.LoadStateNetworkidle,
		Timeout: ms(timeout),
	}))
}

func (p *playwrightPage) Reload(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Reload(pw.PageReloadOptions{
		WaitUntil: pw.WaitUntilStateLoad,
		Timeout:   ms(timeout),
	})
	return pwErr(err)
}

func (p *playwrightPage) Count(loc Locator) (int, error) {
	n, err := p.locator(loc).Count()
	return n, pwErr(err)
}

func (p *playwrightPage) Visible(loc Locator) (bool, error) {
	ok, err := p.locator(loc).IsVisible()
	return ok, pwErr(err)
}

func (p *playwrightPage) WaitVisible(loc Locator, timeout time.Duration) error {
	return pwErr(p.locator(loc).WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateVisible,
		Timeout: ms(timeout),
	}))
}

func (p *playwrightPage) Click(loc Locator, opts ClickOptions) error {
	clickOpts := pw.LocatorClickOptions{Timeout: ms(opts.Timeout)}
	if opts.Force {
		clickOpts.Force = pw.Bool(true)
	}
	if opts.Position != nil {
		clickOpts.Position = &pw.Position{X: opts.Position.X, Y: opts.Position.Y}
	}
	return pwErr(p.locator(loc).Click(clickOpts))
}

func (p *playwrightPage) ScriptClick(loc Locator, timeout time.Duration) error {
	_, err := p.locator(loc).Evaluate("element => element.click()", nil, pw.LocatorEvaluateOptions{
		Timeout: ms(timeout),
	})
	return pwErr(err)
}

func (p *playwrightPage) DispatchClick(loc Locator, timeout time.Duration) error {
	return pwErr(p.locator(loc).DispatchEvent("click", nil, pw.LocatorDispatchEventOptions{
		Timeout: ms(timeout),
	}))
}

func (p *playwrightPage) Fill(loc Locator, value string, timeout time.Duration) error {
	return pwErr(p.locator(loc).Fill(value, pw.LocatorFillOptions{Timeout: ms(timeout)}))
}

func (p *playwrightPage) TypeInto(loc Locator, value string, timeout time.Duration) error {
	l := p.locator(loc)
	if err := l.Click(pw.LocatorClickOptions{Timeout: ms(timeout), Force: pw.Bool(true)}); err != nil {
		return pwErr(err)
	}
	if err := p.page.Keyboard().Press("ControlOrMeta+A"); err != nil {
		return pwErr(err)
	}
	return pwErr(l.PressSequentially(value, pw.LocatorPressSequentiallyOptions{Timeout: ms(timeout)}))
}

func (p *playwrightPage) ScriptFill(loc Locator, value string, timeout time.Duration) error {
	_, err := p.locator(loc).Evaluate(`(el, v) => {
		el.focus();
		el.value = v;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value, pw.LocatorEvaluateOptions{Timeout: ms(timeout)})
	return pwErr(err)
}

func (p *playwrightPage) PressKey(key string) error {
	return pwErr(p.page.Keyboard().Press(key))
}

func (p *playwrightPage) MouseClick(pt Point) error {
	return pwErr(p.page.Mouse().Click(pt.X, pt.Y))
}

func (p *playwrightPage) Viewport() (int, int) {
	size := p.page.ViewportSize()
	if size == nil {
		return 0, 0
	}
	return size.Width, size.Height
}

func (p *playwrightPage) ExpectDownload(timeout time.Duration, trigger func() error) (Download, error) {
	dl, err := p.page.ExpectDownload(trigger, pw.PageExpectDownloadOptions{Timeout: ms(timeout)})
	if err != nil {
		return nil, pwErr(err)
	}
	return dl, nil
}

func (p *playwrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(pw.PageScreenshotOptions{
		Path:     pw.String(path),
		FullPage: pw.Bool(true),
	})
	return pwErr(err)
}

func (p *playwrightPage) Content() (string, error) {
	html, err := p.page.Content()
	return html, pwErr(err)
}
