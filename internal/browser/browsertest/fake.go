// Package browsertest provides a scriptable in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"reportsync/internal/browser"
)

// Operation names recorded in FakePage.Calls and used as Element.Fail keys.
const (
	OpClick         = "click"
	OpForceClick    = "force-click"
	OpScriptClick   = "script-click"
	OpDispatchClick = "dispatch-click"
	OpFill          = "fill"
	OpType          = "type"
	OpScriptFill    = "script-fill"
	OpWaitVisible   = "wait-visible"
	OpMouse         = "mouse"
	OpKey           = "key"
	OpGoto          = "goto"
	OpSettle        = "settle"
	OpReload        = "reload"
	OpScreenshot    = "screenshot"
)

// Element is a fake DOM node addressed by one exact locator.
type Element struct {
	Visible bool
	// Fail maps an operation name to the error that operation returns.
	Fail map[string]error
	// OnClick runs after any successful click technique.
	OnClick func(p *FakePage)
	// Download is queued for ExpectDownload when the element is clicked.
	Download *Download
	Value    string
}

// Download is an in-memory completed transfer.
type Download struct {
	Name string
	Data []byte
}

func (d *Download) SuggestedFilename() string { return d.Name }

func (d *Download) SaveAs(path string) error {
	return os.WriteFile(path, d.Data, 0644)
}

// FakePage implements browser.Page over a map of elements.
type FakePage struct {
	mu       sync.Mutex
	elements map[string]*Element
	pending  *Download

	Calls  []string
	URL    string
	Width  int
	Height int

	// Budget sums the timeouts handed to element operations.
	Budget time.Duration

	OnKey    map[string]func(p *FakePage)
	OnMouse  func(p *FakePage, pt browser.Point)
	OnGoto   map[string]func(p *FakePage)
	OnReload func(p *FakePage)

	GotoErr   error
	SettleErr error
	HTML      string
}

func NewFakePage() *FakePage {
	return &FakePage{
		elements: make(map[string]*Element),
		Width:    1280,
		Height:   720,
		OnKey:    make(map[string]func(p *FakePage)),
		OnGoto:   make(map[string]func(p *FakePage)),
		HTML:     "<html></html>",
	}
}

// Add places el at loc, replacing any previous element there.
func (p *FakePage) Add(loc browser.Locator, el *Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[loc.String()] = el
	return el
}

// Remove deletes the element at loc.
func (p *FakePage) Remove(loc browser.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, loc.String())
}

// Has reports whether an element is present at loc.
func (p *FakePage) Has(loc browser.Locator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.elements[loc.String()]
	return ok
}

// Element returns the element at loc or nil.
func (p *FakePage) Element(loc browser.Locator) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[loc.String()]
}

// CallsWith returns the recorded calls whose operation is one of ops.
func (p *FakePage) CallsWith(ops ...string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.Calls {
		op := strings.SplitN(c, " ", 2)[0]
		for _, want := range ops {
			if op == want {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Clicks returns every click-like call, including raw mouse clicks.
func (p *FakePage) Clicks() []string {
	return p.CallsWith(OpClick, OpForceClick, OpScriptClick, OpDispatchClick, OpMouse)
}

func (p *FakePage) record(op, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, strings.TrimSpace(op+" "+detail))
}

// act records op against loc and returns the element, or the failure the
// element is scripted to return.
func (p *FakePage) act(op string, loc browser.Locator, timeout time.Duration) (*Element, error) {
	p.record(op, loc.String())
	p.mu.Lock()
	p.Budget += timeout
	p.mu.Unlock()
	p.mu.Lock()
	el, ok := p.elements[loc.String()]
	p.mu.Unlock()
	if !ok {
		if op == OpWaitVisible {
			return nil, fmt.Errorf("%w: %s not visible", browser.ErrTimeout, loc)
		}
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, loc)
	}
	if err := el.Fail[op]; err != nil {
		return nil, err
	}
	return el, nil
}

func (p *FakePage) clicked(el *Element) {
	if el.Download != nil {
		p.mu.Lock()
		p.pending = el.Download
		p.mu.Unlock()
	}
	if el.OnClick != nil {
		el.OnClick(p)
	}
}

func (p *FakePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record(OpGoto, url)
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.URL = url
	if fn := p.OnGoto[url]; fn != nil {
		fn(p)
	}
	return nil
}

func (p *FakePage) WaitForSettle(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record(OpSettle, "")
	return p.SettleErr
}

func (p *FakePage) Reload(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record(OpReload, p.URL)
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *FakePage) Count(loc browser.Locator) (int, error) {
	if p.Has(loc) {
		return 1, nil
	}
	return 0, nil
}

func (p *FakePage) Visible(loc browser.Locator) (bool, error) {
	el := p.Element(loc)
	return el != nil && el.Visible, nil
}

func (p *FakePage) WaitVisible(loc browser.Locator, timeout time.Duration) error {
	el, err := p.act(OpWaitVisible, loc, timeout)
	if err != nil {
		return err
	}
	if !el.Visible {
		return fmt.Errorf("%w: %s not visible", browser.ErrTimeout, loc)
	}
	return nil
}

func (p *FakePage) Click(loc browser.Locator, opts browser.ClickOptions) error {
	op := OpClick
	if opts.Force {
		op = OpForceClick
	}
	el, err := p.act(op, loc, opts.Timeout)
	if err != nil {
		return err
	}
	p.clicked(el)
	return nil
}

func (p *FakePage) ScriptClick(loc browser.Locator, timeout time.Duration) error {
	el, err := p.act(OpScriptClick, loc, timeout)
	if err != nil {
		return err
	}
	p.clicked(el)
	return nil
}

func (p *FakePage) DispatchClick(loc browser.Locator, timeout time.Duration) error {
	el, err := p.act(OpDispatchClick, loc, timeout)
	if err != nil {
		return err
	}
	p.clicked(el)
	return nil
}

func (p *FakePage) fill(op string, loc browser.Locator, value string, timeout time.Duration) error {
	el, err := p.act(op, loc, timeout)
	if err != nil {
		return err
	}
	p.mu.Lock()
	el.Value = value
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Fill(loc browser.Locator, value string, timeout time.Duration) error {
	return p.fill(OpFill, loc, value, timeout)
}

func (p *FakePage) TypeInto(loc browser.Locator, value string, timeout time.Duration) error {
	return p.fill(OpType, loc, value, timeout)
}

func (p *FakePage) ScriptFill(loc browser.Locator, value string, timeout time.Duration) error {
	return p.fill(OpScriptFill, loc, value, timeout)
}

func (p *FakePage) PressKey(key string) error {
	p.record(OpKey, key)
	if fn := p.OnKey[key]; fn != nil {
		fn(p)
	}
	return nil
}

func (p *FakePage) MouseClick(pt browser.Point) error {
	p.record(OpMouse, fmt.Sprintf("%.0f,%.0f", pt.X, pt.Y))
	if p.OnMouse != nil {
		p.OnMouse(p, pt)
	}
	return nil
}

func (p *FakePage) Viewport() (int, int) {
	return p.Width, p.Height
}

func (p *FakePage) ExpectDownload(timeout time.Duration, trigger func() error) (browser.Download, error) {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()

	if err := trigger(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return nil, fmt.Errorf("%w: no download within %s", browser.ErrTimeout, timeout)
	}
	dl := p.pending
	p.pending = nil
	return dl, nil
}

func (p *FakePage) Screenshot(path string) error {
	p.record(OpScreenshot, path)
	return os.WriteFile(path, []byte("png"), 0644)
}

func (p *FakePage) Content() (string, error) {
	return p.HTML, nil
}

// Session wraps a FakePage and counts Close calls.
type Session struct {
	FakePage *FakePage
	Closed   int
}

func (s *Session) Page() browser.Page { return s.FakePage }

func (s *Session) Close() error {
	s.Closed++
	return nil
}

// Driver hands out one prepared Session.
type Driver struct {
	Session *Session
	OpenErr error
	Opened  int
}

func NewDriver(page *FakePage) *Driver {
	return &Driver{Session: &Session{FakePage: page}}
}

func (d *Driver) Open(ctx context.Context) (browser.Session, error) {
	d.Opened++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	return d.Session, nil
}
