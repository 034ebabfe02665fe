// Package interact performs single logical UI actions with a bounded,
// deterministic ladder of escalating techniques.
package interact

import (
	"fmt"
	"strings"
	"time"

	"reportsync/internal/browser"
	"reportsync/internal/logging"
)

// Technique is one concrete way of carrying out an action.
type Technique string

const (
	// Direct is the engine's regular action with actionability checks.
	Direct Technique = "direct"
	// Forced ignores overlay and occlusion checks.
	Forced Technique = "forced"
	// Typed focuses the field and types through the keyboard.
	Typed Technique = "typed"
	// Script invokes the DOM method (element.click(), value assignment).
	Script Technique = "script"
	// Dispatch fires a synthetic event on the element.
	Dispatch Technique = "dispatch"
)

// Action is the logical UI action a ladder is applied to.
type Action string

const (
	ActionClick       Action = "click"
	ActionFill        Action = "fill"
	ActionWaitVisible Action = "wait-visible"
)

var (
	ClickLadder = []Technique{Direct, Forced, Script, Dispatch}
	FillLadder  = []Technique{Direct, Typed, Script}
)

// Target is a logical UI element reachable through equivalent locators.
// Locators are resolved fresh on every attempt.
type Target struct {
	Name     string
	Locators []browser.Locator
}

// NewTarget builds a Target from its locators.
func NewTarget(name string, locators ...browser.Locator) Target {
	return Target{Name: name, Locators: locators}
}

// Attempt records one technique tried against one locator.
type Attempt struct {
	Technique Technique
	Locator   browser.Locator
	Err       error
}

// InteractionFailedError is returned once every technique on every locator
// of a target has failed.
type InteractionFailedError struct {
	Action   Action
	Target   string
	Attempts []Attempt
}

func (e *InteractionFailedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, t := range e.Techniques() {
		names = append(names, string(t))
	}
	last := "no locators"
	if n := len(e.Attempts); n > 0 {
		last = e.Attempts[n-1].Err.Error()
	}
	return fmt.Sprintf("interaction failed: %s %q after %d attempts [%s]: %s",
		e.Action, e.Target, len(e.Attempts), strings.Join(names, ", "), last)
}

// Techniques lists the distinct techniques attempted, in order.
func (e *InteractionFailedError) Techniques() []Technique {
	var out []Technique
	seen := make(map[Technique]bool)
	for _, a := range e.Attempts {
		if !seen[a.Technique] {
			seen[a.Technique] = true
			out = append(out, a.Technique)
		}
	}
	return out
}

// Interactor applies ladders against one page.
type Interactor struct {
	page        browser.Page
	timeout     time.Duration
	logger      logging.Logger
	ClickLadder []Technique
	FillLadder  []Technique
}

// New returns an Interactor whose techniques each get timeout.
func New(page browser.Page, timeout time.Duration, logger logging.Logger) *Interactor {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Interactor{
		page:        page,
		timeout:     timeout,
		logger:      logger,
		ClickLadder: ClickLadder,
		FillLadder:  FillLadder,
	}
}

// Page returns the page the interactor drives.
func (i *Interactor) Page() browser.Page { return i.page }

// Click runs the click ladder against t and reports the technique that
// worked.
func (i *Interactor) Click(t Target) (Technique, error) {
	return i.ClickWith(t, i.ClickLadder, i.timeout)
}

// ClickWith runs a custom ladder with a custom per-technique timeout.
func (i *Interactor) ClickWith(t Target, ladder []Technique, timeout time.Duration) (Technique, error) {
	return i.run(ActionClick, t, ladder, func(tech Technique, loc browser.Locator) error {
		switch tech {
		case Direct:
			return i.page.Click(loc, browser.ClickOptions{Timeout: timeout})
		case Forced:
			return i.page.Click(loc, browser.ClickOptions{Timeout: timeout, Force: true})
		case Script:
			return i.page.ScriptClick(loc, timeout)
		case Dispatch:
			return i.page.DispatchClick(loc, timeout)
		default:
			return fmt.Errorf("technique %s does not apply to click", tech)
		}
	})
}

// Fill runs the fill ladder against t.
func (i *Interactor) Fill(t Target, value string) (Technique, error) {
	return i.run(ActionFill, t, i.FillLadder, func(tech Technique, loc browser.Locator) error {
		switch tech {
		case Direct:
			return i.page.Fill(loc, value, i.timeout)
		case Typed:
			return i.page.TypeInto(loc, value, i.timeout)
		case Script:
			return i.page.ScriptFill(loc, value, i.timeout)
		default:
			return fmt.Errorf("technique %s does not apply to fill", tech)
		}
	})
}

// run walks the ladder strongest-last. The first technique is always tried
// so the engine's own auto-wait applies; stronger techniques skip locators
// that currently resolve to nothing.
func (i *Interactor) run(action Action, t Target, ladder []Technique, do func(Technique, browser.Locator) error) (Technique, error) {
	failed := &InteractionFailedError{Action: action, Target: t.Name}
	for n, tech := range ladder {
		for _, loc := range t.Locators {
			if n > 0 {
				if count, err := i.page.Count(loc); err == nil && count == 0 {
					failed.Attempts = append(failed.Attempts, Attempt{
						Technique: tech,
						Locator:   loc,
						Err:       fmt.Errorf("%w: %s", browser.ErrNotFound, loc),
					})
					continue
				}
			}
			err := do(tech, loc)
			if err == nil {
				if n > 0 {
					i.logger.Printf("🛟 %s %q succeeded with %s technique (%s)", action, t.Name, tech, loc)
				}
				return tech, nil
			}
			i.logger.Printf("   ⚠️ %s %q via %s on %s failed: %v", action, t.Name, tech, loc, err)
			failed.Attempts = append(failed.Attempts, Attempt{Technique: tech, Locator: loc, Err: err})
		}
	}
	return "", failed
}

// WaitVisible polls every locator of t until one is visible or budget is
// spent. Each probe is bounded by the interactor's technique timeout, so
// the number of probes is fixed up front.
func (i *Interactor) WaitVisible(t Target, budget time.Duration) (browser.Locator, error) {
	failed := &InteractionFailedError{Action: ActionWaitVisible, Target: t.Name}
	if len(t.Locators) == 0 {
		return browser.Locator{}, failed
	}

	step := i.timeout
	if step <= 0 || step > budget {
		step = budget
	}
	perRound := step * time.Duration(len(t.Locators))
	rounds := int((budget + perRound - 1) / perRound)
	if rounds < 1 {
		rounds = 1
	}

	for r := 0; r < rounds; r++ {
		for _, loc := range t.Locators {
			err := i.page.WaitVisible(loc, step)
			if err == nil {
				return loc, nil
			}
			if r == rounds-1 {
				failed.Attempts = append(failed.Attempts, Attempt{Technique: Direct, Locator: loc, Err: err})
			}
		}
	}
	return browser.Locator{}, failed
}

// Present reports whether any locator of t is currently visible.
func (i *Interactor) Present(t Target) (browser.Locator, bool) {
	for _, loc := range t.Locators {
		if ok, err := i.page.Visible(loc); err == nil && ok {
			return loc, true
		}
	}
	return browser.Locator{}, false
}
