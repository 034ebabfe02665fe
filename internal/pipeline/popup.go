package pipeline

import (
	"context"
	"time"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/interact"
)

// Popup tactics, in the order they run.
const (
	TacticNone       = 0
	TacticFocusEsc   = 1
	TacticCloseClick = 2
	TacticMaskClick  = 3
)

// PopupResult describes what the dismissal strategy observed and did.
type PopupResult struct {
	Present bool
	Closed  bool
	// Tactic is the tactic after which the overlay was gone, or TacticNone.
	Tactic int
}

// PopupDismisser clears the interstitial that may follow login. It never
// fails: no overlay, or an overlay that survives every tactic, are both
// logged outcomes.
type PopupDismisser struct {
	Deps
}

func (p *PopupDismisser) Dismiss(ctx context.Context) (PopupResult, error) {
	var res PopupResult

	p.Logger.Printf("⏳ Waiting %s for the popup to render", p.Waits.Get(config.WaitPopupGrace))
	if err := p.settle(ctx, config.WaitPopupGrace); err != nil {
		return res, err
	}

	ui := p.ui()
	overlay := cssTarget("overlay", PopupOverlaySelectors)
	if _, ok := ui.Present(overlay); !ok {
		p.Logger.Printf("ℹ️ No popup present")
		return res, nil
	}
	res.Present = true

	tactics := []func(*interact.Interactor){
		p.focusAndEscape,
		p.clickClose,
		p.clickMask,
	}
	for n, tactic := range tactics {
		tactic(ui)
		if err := p.settle(ctx, config.WaitPopupTactic); err != nil {
			return res, err
		}
		if _, still := ui.Present(overlay); !still {
			res.Closed = true
			res.Tactic = n + 1
			p.Logger.Printf("✅ Popup closed by tactic %d", res.Tactic)
			break
		}
	}
	if !res.Closed {
		p.Logger.Printf("⚠️ Popup still present after all tactics, continuing")
	}

	if err := p.settle(ctx, config.WaitPopupAfter); err != nil {
		return res, err
	}
	return res, nil
}

// focusAndEscape clicks the page centre to focus it, then sends Escape.
func (p *PopupDismisser) focusAndEscape(_ *interact.Interactor) {
	p.Logger.Printf("1️⃣ Popup tactic 1: focus and Escape")
	if w, h := p.Page.Viewport(); w > 0 && h > 0 {
		if err := p.Page.MouseClick(browser.Point{X: float64(w) / 2, Y: float64(h) / 2}); err != nil {
			p.Logger.Printf("   ⚠️ Focus click failed: %v", err)
		}
	}
	if err := p.Page.PressKey("Escape"); err != nil {
		p.Logger.Printf("   ⚠️ Escape failed: %v", err)
	}
}

// clickClose runs the click ladder on the first close affordance present.
// The whole ladder shares one popup_tactic budget.
func (p *PopupDismisser) clickClose(ui *interact.Interactor) {
	p.Logger.Printf("2️⃣ Popup tactic 2: close buttons")
	step := p.Waits.Get(config.WaitPopupTactic) / time.Duration(len(interact.ClickLadder))
	for _, sel := range PopupCloseSelectors {
		loc := browser.ByCSS(sel)
		if n, err := p.Page.Count(loc); err != nil || n == 0 {
			continue
		}
		p.Logger.Printf("   ⚠️ Close button found: %s", sel)
		if _, err := ui.ClickWith(interact.NewTarget("popup close", loc), interact.ClickLadder, step); err != nil {
			p.Logger.Printf("   ⚠️ Close button %s did not respond: %v", sel, err)
		}
		return
	}
}

// clickMask clicks the background mask near its corner, away from the
// dialog body.
func (p *PopupDismisser) clickMask(_ *interact.Interactor) {
	p.Logger.Printf("3️⃣ Popup tactic 3: background mask")
	opts := browser.ClickOptions{
		Force:    true,
		Timeout:  p.Waits.Get(config.WaitPopupTactic),
		Position: &browser.Point{X: 10, Y: 10},
	}
	for _, sel := range PopupMaskSelectors {
		loc := browser.ByCSS(sel)
		if n, err := p.Page.Count(loc); err != nil || n == 0 {
			continue
		}
		if err := p.Page.Click(loc, opts); err != nil {
			p.Logger.Printf("   ⚠️ Mask click on %s failed: %v", sel, err)
			continue
		}
		return
	}
}
