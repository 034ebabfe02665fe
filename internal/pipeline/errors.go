package pipeline

import (
	"fmt"
	"time"
)

// ArtifactNotReadyError means the ready row never became visible within the
// poll budget, including the single reload.
type ArtifactNotReadyError struct {
	Waited   time.Duration
	Reloaded bool
	Err      error
}

func (e *ArtifactNotReadyError) Error() string {
	return fmt.Sprintf("artifact not ready after %s (reloaded=%t): %v", e.Waited, e.Reloaded, e.Err)
}

func (e *ArtifactNotReadyError) Unwrap() error { return e.Err }

// DownloadTimeoutError means the transfer was initiated but no file arrived
// before the download timeout.
type DownloadTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download did not complete within %s: %v", e.Timeout, e.Err)
}

func (e *DownloadTimeoutError) Unwrap() error { return e.Err }
