// Package browser is the boundary to the browser-control engine. The
// pipeline only talks to these interfaces; playwright-go and go-rod provide
// the concrete sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is wrapped by every driver error caused by an expired wait.
	ErrTimeout = errors.New("browser: timeout")
	// ErrNotFound is returned when a locator resolves to no element.
	ErrNotFound = errors.New("browser: element not found")
)

// Locator identifies an element one way. Exactly one of Role, Placeholder,
// Text or CSS is used, in that order of precedence. Nth selects among
// multiple matches in rendered order.
type Locator struct {
	Role        string
	Name        string
	Placeholder string
	Text        string
	CSS         string
	Nth         int
}

func (l Locator) String() string {
	var s string
	switch {
	case l.Role != "":
		s = fmt.Sprintf("role=%s[name=%q]", l.Role, l.Name)
	case l.Placeholder != "":
		s = fmt.Sprintf("placeholder=%q", l.Placeholder)
	case l.Text != "":
		s = fmt.Sprintf("text=%q", l.Text)
	default:
		s = "css=" + l.CSS
	}
	if l.Nth > 0 {
		s += fmt.Sprintf(" >> nth=%d", l.Nth)
	}
	return s
}

// ByRole, ByText, ByPlaceholder and ByCSS build single-strategy locators.
func ByRole(role, name string) Locator  { return Locator{Role: role, Name: name} }
func ByText(text string) Locator        { return Locator{Text: text} }
func ByPlaceholder(text string) Locator { return Locator{Placeholder: text} }
func ByCSS(css string) Locator          { return Locator{CSS: css} }

type Point struct {
	X, Y float64
}

// ClickOptions tune a direct click. Force skips actionability checks
// (overlays, occlusion); Position is relative to the element's top-left.
type ClickOptions struct {
	Force    bool
	Timeout  time.Duration
	Position *Point
}

// Page is one open tab. Every element-level call resolves its locator
// fresh, so callers never hold stale handles.
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	WaitForSettle(ctx context.Context, timeout time.Duration) error
	Reload(ctx context.Context, timeout time.Duration) error

	Count(loc Locator) (int, error)
	// Visible reports whether loc currently resolves to a rendered element,
	// without waiting.
	Visible(loc Locator) (bool, error)
	WaitVisible(loc Locator, timeout time.Duration) error

	Click(loc Locator, opts ClickOptions) error
	ScriptClick(loc Locator, timeout time.Duration) error
	DispatchClick(loc Locator, timeout time.Duration) error

	Fill(loc Locator, value string, timeout time.Duration) error
	TypeInto(loc Locator, value string, timeout time.Duration) error
	ScriptFill(loc Locator, value string, timeout time.Duration) error

	PressKey(key string) error
	MouseClick(p Point) error
	Viewport() (width, height int)

	// ExpectDownload arms a download listener, runs trigger and blocks until
	// a transfer completes or timeout elapses (ErrTimeout).
	ExpectDownload(timeout time.Duration, trigger func() error) (Download, error)

	Screenshot(path string) error
	Content() (string, error)
}

// Download is a completed transfer still sitting in transient storage.
type Download interface {
	SuggestedFilename() string
	SaveAs(path string) error
}

// Session owns the browser process, its context and the single page.
type Session interface {
	Page() Page
	Close() error
}

// Driver opens sessions.
type Driver interface {
	Open(ctx context.Context) (Session, error)
}

// IsTimeout reports whether err was caused by an expired wait.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
