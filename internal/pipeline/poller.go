package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/interact"
)

// PreviewScreenshot is written to the diagnostics dir before the poller
// starts waiting for the ready row.
const PreviewScreenshot = "debug_task_center.png"

// TaskCenterPoller waits for the export job to show up as downloadable.
type TaskCenterPoller struct {
	Deps
	URL     string
	DiagDir string
}

// Poll returns the locator of the ready row. The ready row is the first
// download affordance in rendered order; it is assumed to belong to the
// export this run triggered.
func (t *TaskCenterPoller) Poll(ctx context.Context) (browser.Locator, error) {
	t.Logger.Printf("📂 Opening task center %s", t.URL)
	if err := t.goTo(ctx, t.URL); err != nil {
		return browser.Locator{}, fmt.Errorf("open task center: %w", err)
	}
	if err := t.settle(ctx, config.WaitTaskCenterSettle); err != nil {
		return browser.Locator{}, err
	}

	ui := t.ui()
	if err := t.showList(ctx, ui); err != nil {
		return browser.Locator{}, err
	}
	t.preview()

	budget := t.Waits.Get(config.WaitReady)
	t.Logger.Printf("🔎 Waiting up to %s for a ready row", budget)
	loc, err := ui.WaitVisible(ReadyRow, budget)
	if err == nil {
		return loc, nil
	}

	t.Logger.Printf("🔄 No ready row yet, reloading task center once")
	if rerr := t.Page.Reload(ctx, t.Waits.Get(config.WaitNavigation)); rerr != nil {
		if ctx.Err() != nil {
			return browser.Locator{}, ctx.Err()
		}
		t.Logger.Printf("⚠️ Reload failed: %v", rerr)
	}
	if err := t.settle(ctx, config.WaitTaskCenterSettle); err != nil {
		return browser.Locator{}, err
	}
	if err := t.showList(ctx, ui); err != nil {
		return browser.Locator{}, err
	}

	loc, err = ui.WaitVisible(ReadyRow, budget)
	if err != nil {
		return browser.Locator{}, &ArtifactNotReadyError{Waited: 2 * budget, Reloaded: true, Err: err}
	}
	return loc, nil
}

// showList selects the export-task tab and lets the list render. The tab
// may already be active, so a failed click is only logged.
func (t *TaskCenterPoller) showList(ctx context.Context, ui *interact.Interactor) error {
	t.Logger.Printf("👆 Selecting export task tab")
	timeout := t.Waits.Get(config.WaitTabClick)
	if _, err := ui.ClickWith(ExportTaskTab, []interact.Technique{interact.Forced}, timeout); err != nil {
		t.Logger.Printf("⚠️ Tab click failed, assuming it is already active: %v", err)
	}
	return t.settle(ctx, config.WaitListRender)
}

func (t *TaskCenterPoller) preview() {
	if t.DiagDir == "" {
		return
	}
	if err := os.MkdirAll(t.DiagDir, 0755); err != nil {
		t.Logger.Printf("⚠️ Failed to create diagnostics dir: %v", err)
		return
	}
	path := filepath.Join(t.DiagDir, PreviewScreenshot)
	if err := t.Page.Screenshot(path); err != nil {
		t.Logger.Printf("⚠️ Preventive screenshot failed: %v", err)
		return
	}
	t.Logger.Printf("📸 Preventive screenshot saved to %s", path)
}
