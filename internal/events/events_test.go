package events

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	id := NewEventID("run_", ts)
	assert.Regexp(t, regexp.MustCompile(`^run_20260302_[0-9a-f]{16}$`), id)
	assert.NotEqual(t, id, NewEventID("run_", ts))
}

func TestMinimalValidate(t *testing.T) {
	evt := RunEvent{
		EventID:   "run_20260301_0011223344556677",
		Source:    "reportsync",
		Type:      TypeRunCompleted,
		Timestamp: time.Now(),
		Context:   RunContext{RunID: "abc"},
	}
	assert.True(t, evt.MinimalValidate())

	evt.Context.RunID = ""
	assert.False(t, evt.MinimalValidate())
}

func TestNATSBusRejectsInvalidEvent(t *testing.T) {
	bus := &NATSBus{subject: "reportsync.runs"}
	err := bus.Publish(context.Background(), RunEvent{Type: TypeRunFailed})
	assert.ErrorContains(t, err, "invalid event")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_, ok := r.Last()
	assert.False(t, ok)

	evt := RunEvent{EventID: "e", Source: "s", Type: TypeRunFailed, Timestamp: time.Now(), Context: RunContext{RunID: "r"}}
	require.NoError(t, r.Publish(context.Background(), evt))
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, TypeRunFailed, last.Type)
}
