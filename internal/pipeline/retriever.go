package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/interact"
)

// Retriever clicks the ready row and captures the resulting transfer.
type Retriever struct {
	Deps
	DownloadDir string
}

// Retrieve saves the downloaded file under its suggested name in the
// download dir and returns that path.
func (r *Retriever) Retrieve(ctx context.Context, ready browser.Locator) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The row the poller found goes first; the rest of the ready-row
	// locators follow in case the DOM changed in between.
	target := interact.NewTarget(ReadyRow.Name, ready)
	for _, loc := range ReadyRow.Locators {
		if loc != ready {
			target.Locators = append(target.Locators, loc)
		}
	}

	timeout := r.Waits.Get(config.WaitDownload)
	var clickErr error
	dl, err := r.Page.ExpectDownload(timeout, func() error {
		r.Logger.Printf("⬇️ Clicking %s", ready)
		_, clickErr = r.ui().Click(target)
		return clickErr
	})
	if clickErr != nil {
		return "", clickErr
	}
	if err != nil {
		if browser.IsTimeout(err) {
			return "", &DownloadTimeoutError{Timeout: timeout, Err: err}
		}
		return "", fmt.Errorf("capture download: %w", err)
	}

	if err := os.MkdirAll(r.DownloadDir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(r.DownloadDir, downloadName(dl.SuggestedFilename()))
	if err := dl.SaveAs(path); err != nil {
		return "", fmt.Errorf("save download: %w", err)
	}
	r.Logger.Printf("💾 Download saved to %s", path)
	return path, nil
}

func downloadName(suggested string) string {
	name := filepath.Base(strings.TrimSpace(suggested))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "export.csv"
	}
	return name
}
