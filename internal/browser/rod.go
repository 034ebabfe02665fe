package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"reportsync/internal/config"
	"reportsync/internal/logging"
)

// RodDriver drives Chromium over CDP with go-rod. Used where the playwright
// driver bundle cannot be installed.
type RodDriver struct {
	cfg         config.BrowserConfig
	downloadDir string
	logger      logging.Logger
}

func NewRodDriver(cfg config.BrowserConfig, downloadDir string, logger logging.Logger) *RodDriver {
	if logger == nil {
		logger = logging.New("browser")
	}
	return &RodDriver{cfg: cfg, downloadDir: downloadDir, logger: logger}
}

func (d *RodDriver) Open(ctx context.Context) (Session, error) {
	l := launcher.New().Headless(d.cfg.Headless)
	if executablePath := resolveExecutable(d.cfg.ExecutablePath); executablePath != "" {
		l = l.Bin(executablePath)
		d.logger.Printf("🚀 Using browser executable: %s", executablePath)
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %v", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %v", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create page: %v", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.ViewportWidth,
		Height:            d.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		d.logger.Printf("⚠️ Failed to set viewport: %v", err)
	}

	return &rodSession{
		launcher: l,
		browser:  browser,
		page: &rodPage{
			browser:     browser,
			page:        page,
			downloadDir: d.downloadDir,
			width:       d.cfg.ViewportWidth,
			height:      d.cfg.ViewportHeight,
		},
	}, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rodPage
}

func (s *rodSession) Page() Page { return s.page }

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type rodPage struct {
	browser       *rod.Browser
	page          *rod.Page
	downloadDir   string
	width, height int
}

const rodPoll = 100 * time.Millisecond

func rodErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

var roleSelectors = map[string]string{
	"button":  `button, [role="button"], input[type="button"], input[type="submit"]`,
	"link":    `a, [role="link"]`,
	"tab":     `[role="tab"]`,
	"textbox": `input:not([type]), input[type="text"], input[type="password"], textarea, [role="textbox"]`,
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// resolve returns every element matching loc in rendered order.
func (p *rodPage) resolve(loc Locator) (rod.Elements, error) {
	switch {
	case loc.Role != "":
		css, ok := roleSelectors[loc.Role]
		if !ok {
			css = fmt.Sprintf(`[role=%q]`, loc.Role)
		}
		all, err := p.page.Elements(css)
		if err != nil || loc.Name == "" {
			return all, err
		}
		var named rod.Elements
		for _, el := range all {
			if rodAccessibleName(el) == loc.Name {
				named = append(named, el)
			}
		}
		return named, nil
	case loc.Placeholder != "":
		return p.page.Elements(fmt.Sprintf(`[placeholder=%q]`, loc.Placeholder))
	case loc.Text != "":
		return p.page.ElementsX(fmt.Sprintf(`//*[text()[contains(normalize-space(.), %s)]]`, xpathLiteral(loc.Text)))
	default:
		return p.page.Elements(loc.CSS)
	}
}

func rodAccessibleName(el *rod.Element) string {
	if label, err := el.Attribute("aria-label"); err == nil && label != nil && *label != "" {
		return strings.TrimSpace(*label)
	}
	if text, err := el.Text(); err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if value, err := el.Attribute("value"); err == nil && value != nil {
		return strings.TrimSpace(*value)
	}
	return ""
}

// element polls until loc resolves or timeout elapses.
func (p *rodPage) element(loc Locator, timeout time.Duration) (*rod.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		els, err := p.resolve(loc)
		if err == nil && len(els) > loc.Nth {
			el := els[loc.Nth]
			if timeout > 0 {
				el = el.Timeout(timeout)
			}
			return el, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return nil, rodErr(err)
			}
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		time.Sleep(rodPoll)
	}
}

// scoped returns the page bound to ctx and, when positive, timeout.
func (p *rodPage) scoped(ctx context.Context, timeout time.Duration) *rod.Page {
	page := p.page.Context(ctx)
	if timeout > 0 {
		page = page.Timeout(timeout)
	}
	return page
}

func (p *rodPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	page := p.scoped(ctx, timeout)
	if err := page.Navigate(url); err != nil {
		return rodErr(err)
	}
	return rodErr(page.WaitLoad())
}

func (p *rodPage) WaitForSettle(ctx context.Context, timeout time.Duration) error {
	page := p.scoped(ctx, timeout)
	if err := page.WaitLoad(); err != nil {
		return rodErr(err)
	}
	return rodErr(page.WaitIdle(timeout))
}

func (p *rodPage) Reload(ctx context.Context, timeout time.Duration) error {
	page := p.scoped(ctx, timeout)
	if err := page.Reload(); err != nil {
		return rodErr(err)
	}
	return rodErr(page.WaitLoad())
}

func (p *rodPage) Count(loc Locator) (int, error) {
	els, err := p.resolve(loc)
	if err != nil {
		return 0, rodErr(err)
	}
	if len(els) > loc.Nth {
		return 1, nil
	}
	return 0, nil
}

func (p *rodPage) Visible(loc Locator) (bool, error) {
	els, err := p.resolve(loc)
	if err != nil {
		return false, rodErr(err)
	}
	if len(els) <= loc.Nth {
		return false, nil
	}
	ok, err := els[loc.Nth].Visible()
	return ok, rodErr(err)
}

func (p *rodPage) WaitVisible(loc Locator, timeout time.Duration) error {
	el, err := p.element(loc, timeout)
	if err != nil {
		return err
	}
	return rodErr(el.WaitVisible())
}

func (p *rodPage) Click(loc Locator, opts ClickOptions) error {
	el, err := p.element(loc, opts.Timeout)
	if err != nil {
		return err
	}
	if !opts.Force && opts.Position == nil {
		return rodErr(el.Click(proto.InputMouseButtonLeft, 1))
	}

	// Forced: click the element's box through the mouse, skipping rod's
	// interactability checks.
	if err := el.ScrollIntoView(); err != nil {
		return rodErr(err)
	}
	shape, err := el.Shape()
	if err != nil {
		return rodErr(err)
	}
	box := shape.Box()
	pt := Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2}
	if opts.Position != nil {
		pt = Point{X: box.X + opts.Position.X, Y: box.Y + opts.Position.Y}
	}
	return p.MouseClick(pt)
}

func (p *rodPage) ScriptClick(loc Locator, timeout time.Duration) error {
	el, err := p.element(loc, timeout)
	if err != nil {
		return err
	}
	_, err = el.Eval(`() => this.click()`)
	return rodErr(err)
}

func (p *rodPage) DispatchClick(loc Locator, timeout time.Duration) error {
	el, err := p.element(loc, timeout)
	if err != nil {
		return err
	}
	_, err = el.Eval(`() => this.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }))`)
	return rodErr(err)
}

func (p *rodPage) Fill(loc Locator, value string, timeout time.Duration) error {
	el, err := p.element(loc, timeout)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return rodErr(err)
	}
	return rodErr(el.Input(value))
}

func (p *rodPage) TypeInto(loc Locator, value string, timeout time.Duration) error {
	el, err := p.element(loc, timeout)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return rodErr(err)
	}
	if err := el.SelectAllText(); err != nil {
		return rodErr(err)
	}
	return rodErr(p.page.InsertText(value))
}

func (p *rodPage) ScriptFill(loc Locator, value string, timeout time.Duration) error {
	el, err := p.element(loc, timeout)
	if err != nil {
		return err
	}
	_, err = el.Eval(`(v) => {
		this.focus();
		this.value = v;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	return rodErr(err)
}

var rodKeys = map[string]input.Key{
	"Escape":    input.Escape,
	"Enter":     input.Enter,
	"Tab":       input.Tab,
	"ArrowDown": input.ArrowDown,
}

func (p *rodPage) PressKey(key string) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return rodErr(p.page.Keyboard.Press(k))
}

func (p *rodPage) MouseClick(pt Point) error {
	if err := p.page.Mouse.MoveTo(proto.Point{X: pt.X, Y: pt.Y}); err != nil {
		return rodErr(err)
	}
	return rodErr(p.page.Mouse.Click(proto.InputMouseButtonLeft, 1))
}

func (p *rodPage) Viewport() (int, int) {
	return p.width, p.height
}

func (p *rodPage) ExpectDownload(timeout time.Duration, trigger func() error) (Download, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wait := p.browser.Context(ctx).WaitDownload(p.downloadDir)
	if err := trigger(); err != nil {
		return nil, err
	}
	info, err := awaitDownload(ctx, wait, timeout)
	if err != nil {
		return nil, err
	}
	return &rodDownload{dir: p.downloadDir, info: info}, nil
}

// awaitDownload blocks on wait until the transfer completes or ctx ends.
// rod's wait also returns the begin record when its context is cancelled
// mid-transfer, so a record seen after ctx ended is not a completed file.
func awaitDownload(ctx context.Context, wait func() *proto.PageDownloadWillBegin, timeout time.Duration) (*proto.PageDownloadWillBegin, error) {
	done := make(chan *proto.PageDownloadWillBegin, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- nil
			}
		}()
		done <- wait()
	}()

	select {
	case info := <-done:
		if info == nil || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: download did not complete within %s", ErrTimeout, timeout)
		}
		return info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: download did not complete within %s", ErrTimeout, timeout)
	}
}

func (p *rodPage) Screenshot(path string) error {
	data, err := p.page.Screenshot(true, nil)
	if err != nil {
		return rodErr(err)
	}
	return os.WriteFile(path, data, 0644)
}

func (p *rodPage) Content() (string, error) {
	html, err := p.page.HTML()
	return html, rodErr(err)
}

// rodDownload is a file rod saved under its GUID in the download dir.
type rodDownload struct {
	dir  string
	info *proto.PageDownloadWillBegin
}

func (d *rodDownload) SuggestedFilename() string { return d.info.SuggestedFilename }

func (d *rodDownload) SaveAs(path string) error {
	src := filepath.Join(d.dir, d.info.GUID)
	if src == path {
		return nil
	}
	return os.Rename(src, path)
}
