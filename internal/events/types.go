// Package events announces finished runs on NATS.
package events

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Event types.
const (
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"
)

// RunEvent is the envelope published for every finished run.
type RunEvent struct {
	EventID   string     `json:"event_id"`
	Source    string     `json:"source"`
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Context   RunContext `json:"context"`
	Payload   RunPayload `json:"payload"`
}

type RunContext struct {
	RunID  string `json:"run_id"`
	Report string `json:"report,omitempty"`
	Tab    string `json:"tab,omitempty"`
}

type RunPayload struct {
	State       string  `json:"state"`
	Error       string  `json:"error,omitempty"`
	ErrorKind   string  `json:"error_kind,omitempty"`
	Rows        int     `json:"rows"`
	Artifact    string  `json:"artifact,omitempty"`
	PopupClosed bool    `json:"popup_closed"`
	DurationSec float64 `json:"duration_sec"`
}

// NewEventID generates a compact unique event id with a date prefix.
func NewEventID(prefix string, t time.Time) string {
	// 8 random bytes -> 16 hex chars
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + t.UTC().Format("20060102") + "_" + hex.EncodeToString(b)
}

// MinimalValidate checks required fields.
func (e *RunEvent) MinimalValidate() bool {
	return e.EventID != "" && e.Source != "" && e.Type != "" && !e.Timestamp.IsZero() && e.Context.RunID != ""
}
