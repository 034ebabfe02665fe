// Package sink publishes a materialized artifact into the destination
// spreadsheet tab as one replace-all write.
package sink

import (
	"context"
	"errors"
	"fmt"

	"reportsync/internal/logging"
)

// Sheet is a destination store. ReplaceAll must make rows the entire
// content of tab in one indivisible write, and must be safe to retry.
type Sheet interface {
	ReplaceAll(ctx context.Context, tab string, rows [][]string) error
}

// SinkWriteFailedError wraps a rejected write. The tab is left as it was.
type SinkWriteFailedError struct {
	Tab string
	Err error
}

func (e *SinkWriteFailedError) Error() string {
	return fmt.Sprintf("write to tab %q failed: %v", e.Tab, e.Err)
}

func (e *SinkWriteFailedError) Unwrap() error { return e.Err }

// Result summarizes one publish.
type Result struct {
	Rows    int
	Skipped bool
	Reason  string
}

type Publisher struct {
	Sheet  Sheet
	Tab    string
	Logger logging.Logger
}

func NewPublisher(sheet Sheet, tab string, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.New("sink")
	}
	return &Publisher{Sheet: sheet, Tab: tab, Logger: logger}
}

// Publish parses path and replaces the tab with its header and rows. A
// malformed artifact is skipped and the tab is not touched.
func (p *Publisher) Publish(ctx context.Context, path string) (Result, error) {
	rows, err := ReadTable(path)
	if err != nil {
		var malformed *MalformedArtifactError
		if errors.As(err, &malformed) {
			p.Logger.Printf("⚠️ Skipping publish to %q: %v", p.Tab, err)
			return Result{Skipped: true, Reason: malformed.Reason}, nil
		}
		return Result{}, err
	}

	if err := p.Sheet.ReplaceAll(ctx, p.Tab, rows); err != nil {
		return Result{}, &SinkWriteFailedError{Tab: p.Tab, Err: err}
	}
	p.Logger.Printf("✅ Published %d data rows to tab %q", len(rows)-1, p.Tab)
	return Result{Rows: len(rows) - 1}, nil
}
