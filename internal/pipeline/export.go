package pipeline

import (
	"context"
	"fmt"

	"reportsync/internal/config"
)

// ExportTrigger starts the server-side export from a report's listing page.
// The server gives no completion signal, so both sides of the click are
// fixed settle waits.
type ExportTrigger struct {
	Deps
	ListingURL string
}

func (e *ExportTrigger) Trigger(ctx context.Context) error {
	e.Logger.Printf("📄 Opening listing %s", e.ListingURL)
	if err := e.goTo(ctx, e.ListingURL); err != nil {
		return fmt.Errorf("open listing page: %w", err)
	}
	if err := e.settle(ctx, config.WaitListingSettle); err != nil {
		return err
	}

	e.Logger.Printf("📤 Clicking export")
	tech, err := e.ui().Click(ExportButton)
	if err != nil {
		return err
	}
	e.Logger.Printf("✅ Export requested (%s click)", tech)

	return e.settle(ctx, config.WaitExportSettle)
}
