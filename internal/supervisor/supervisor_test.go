package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportsync/internal/browser"
	"reportsync/internal/browser/browsertest"
	"reportsync/internal/config"
	"reportsync/internal/events"
	"reportsync/internal/history"
	"reportsync/internal/lock"
	"reportsync/internal/logging"
	"reportsync/internal/pipeline"
	"reportsync/internal/sink"
)

const csvBody = "id,qty\na,1\nb,\n"

var fixedNow = time.Date(2026, 3, 1, 14, 20, 0, 0, time.Local)

type harness struct {
	cfg    *config.Config
	page   *browsertest.FakePage
	driver *browsertest.Driver
	sheet  *sink.MemorySheet
	events *events.Recorder
	hist   *history.MemoryStore
	locker lock.Locker
	log    *logging.Recorder
}

// newHarness builds a console where login, export and download all work
// and no popup appears.
func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Credentials = config.Credentials{OpsID: "Ops1", Password: "secret"}
	cfg.Sheets.SpreadsheetID = "sheet-123"
	cfg.DownloadDir = t.TempDir()
	cfg.DiagDir = t.TempDir()

	page := browsertest.NewFakePage()
	page.Add(browser.ByPlaceholder("Ops ID"), &browsertest.Element{Visible: true})
	page.Add(browser.ByPlaceholder("Senha"), &browsertest.Element{Visible: true})
	page.Add(browser.ByCSS("form button[type='submit']"), &browsertest.Element{Visible: true})
	page.Add(browser.ByRole("button", "Exportar"), &browsertest.Element{Visible: true})
	page.Add(browser.ByText("Exportar tarefa"), &browsertest.Element{Visible: true})
	page.Add(browser.ByText("Baixar"), &browsertest.Element{
		Visible:  true,
		Download: &browsertest.Download{Name: "trip_export.csv", Data: []byte(csvBody)},
	})

	return &harness{
		cfg:    cfg,
		page:   page,
		driver: browsertest.NewDriver(page),
		sheet:  sink.NewMemorySheet(),
		events: &events.Recorder{},
		hist:   history.NewMemoryStore(10),
		locker: lock.NewLocalLocker(),
		log:    &logging.Recorder{},
	}
}

func (h *harness) supervisor() *Supervisor {
	return New(h.cfg, Options{
		Driver:  h.driver,
		Sheet:   h.sheet,
		Locker:  h.locker,
		History: h.hist,
		Events:  h.events,
		Logger:  h.log,
		Sleep:   pipeline.NoSleep,
		Now:     func() time.Time { return fixedNow },
	})
}

func (h *harness) report() config.ReportConfig {
	r, _ := h.cfg.Report("PEND")
	return r
}

func states(rec history.Record) []State {
	var out []State
	for _, tr := range rec.Transitions {
		out = append(out, State(tr.State))
	}
	return out
}

func TestRunWithoutPopupPublishes(t *testing.T) {
	h := newHarness(t)

	rec, err := h.supervisor().Run(context.Background(), h.report())
	require.NoError(t, err)

	assert.Equal(t, string(Done), rec.State)
	assert.Equal(t, Sequence[1:], states(rec))
	assert.False(t, rec.PopupFound)
	assert.True(t, rec.Published)
	assert.Equal(t, 2, rec.Rows)

	// No dismissal gesture of any kind before polling.
	assert.Empty(t, h.page.CallsWith(browsertest.OpMouse, browsertest.OpKey))
	for _, c := range h.page.Clicks() {
		assert.NotContains(t, c, "modal")
		assert.NotContains(t, c, "dialog")
	}

	wantPath := filepath.Join(h.cfg.DownloadDir, "PEND-14.csv")
	assert.Equal(t, wantPath, rec.Artifact)
	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(data))

	assert.Equal(t, [][]string{{"id", "qty"}, {"a", "1"}, {"b", ""}}, h.sheet.Tab("Base Pending"))
	assert.Equal(t, 1, h.driver.Session.Closed)

	evt, ok := h.events.Last()
	require.True(t, ok)
	assert.Equal(t, events.TypeRunCompleted, evt.Type)
	assert.Equal(t, rec.RunID, evt.Context.RunID)

	latest, ok, err := history.Latest(context.Background(), h.hist)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.RunID, latest.RunID)
	assert.True(t, h.log.Contains("Process PEND completed"))
}

func TestRunMaskTacticClosesPopup(t *testing.T) {
	h := newHarness(t)
	mask := browser.ByCSS(".ant-modal-mask")
	h.page.Add(mask, &browsertest.Element{
		Visible: true,
		OnClick: func(p *browsertest.FakePage) { p.Remove(mask) },
	})

	rec, err := h.supervisor().Run(context.Background(), h.report())
	require.NoError(t, err)

	assert.True(t, rec.PopupFound)
	assert.True(t, rec.PopupClosed)
	assert.Equal(t, pipeline.TacticMaskClick, rec.PopupTactic)
	assert.Equal(t, string(Done), rec.State)
}

func TestRunReadyRowNeverAppears(t *testing.T) {
	h := newHarness(t)
	h.page.Remove(browser.ByText("Baixar"))
	before := [][]string{{"id", "qty"}, {"old", "9"}}
	h.sheet.Seed("Base Pending", before)

	rec, err := h.supervisor().Run(context.Background(), h.report())

	var notReady *pipeline.ArtifactNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, string(Failed), rec.State)
	assert.Equal(t, "ArtifactNotReady", rec.ErrorKind)
	assert.Equal(t, []State{LoggingIn, DismissingPopup, Exporting, Polling, Failed}, states(rec))

	assert.Equal(t, before, h.sheet.Tab("Base Pending"))
	assert.Equal(t, 0, h.sheet.Writes)
	assert.Equal(t, 1, h.driver.Session.Closed)

	require.Len(t, rec.Diagnostics, 2)
	for _, p := range rec.Diagnostics {
		assert.FileExists(t, p)
	}

	evt, ok := h.events.Last()
	require.True(t, ok)
	assert.Equal(t, events.TypeRunFailed, evt.Type)
	assert.Equal(t, "ArtifactNotReady", evt.Payload.ErrorKind)
	assert.True(t, h.log.Contains("ERROR: "))
}

func TestRunExportButtonMissingIsFatal(t *testing.T) {
	h := newHarness(t)
	h.page.Remove(browser.ByRole("button", "Exportar"))

	rec, err := h.supervisor().Run(context.Background(), h.report())

	require.Error(t, err)
	assert.Equal(t, "InteractionFailed", rec.ErrorKind)
	assert.Equal(t, []State{LoggingIn, DismissingPopup, Exporting, Failed}, states(rec))
	assert.Empty(t, h.page.CallsWith(browsertest.OpGoto)[2:])
	assert.Equal(t, 1, h.driver.Session.Closed)
}

func TestRunSinkFailureLeavesTab(t *testing.T) {
	h := newHarness(t)
	h.sheet.Seed("Base Pending", [][]string{{"keep"}})
	h.sheet.Fail = errors.New("permission denied")

	rec, err := h.supervisor().Run(context.Background(), h.report())

	var sinkErr *sink.SinkWriteFailedError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "SinkWriteFailed", rec.ErrorKind)
	assert.Equal(t, [][]string{{"keep"}}, h.sheet.Tab("Base Pending"))
	assert.False(t, rec.Published)
}

func TestRunEmptyArtifactIsSoft(t *testing.T) {
	h := newHarness(t)
	h.page.Element(browser.ByText("Baixar")).Download.Data = []byte("id,qty\n")

	rec, err := h.supervisor().Run(context.Background(), h.report())

	require.NoError(t, err)
	assert.Equal(t, string(Done), rec.State)
	assert.False(t, rec.Published)
	assert.Equal(t, 0, h.sheet.Writes)
}

func TestRunOpenFailure(t *testing.T) {
	h := newHarness(t)
	h.driver.OpenErr = errors.New("chromium not found")

	rec, err := h.supervisor().Run(context.Background(), h.report())

	require.Error(t, err)
	assert.Equal(t, []State{Failed}, states(rec))
	assert.Equal(t, 0, h.driver.Session.Closed)
	assert.Empty(t, rec.Diagnostics)
}

func TestRunSkippedWhenTabLocked(t *testing.T) {
	h := newHarness(t)
	unlock, err := h.locker.TryLock(context.Background(), lock.Key("sheet-123", "Base Pending"))
	require.NoError(t, err)
	defer unlock(context.Background())

	_, err = h.supervisor().Run(context.Background(), h.report())

	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Equal(t, 0, h.driver.Opened)
	recs, _ := h.hist.List(context.Background(), 0)
	assert.Empty(t, recs)
}

func TestRunReleasesRedisLock(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()

	h := newHarness(t)
	h.locker = lock.NewRedisLocker(client, time.Minute)

	_, err = h.supervisor().Run(context.Background(), h.report())
	require.NoError(t, err)
	assert.False(t, m.Exists(lock.Key("sheet-123", "Base Pending")))
}

func TestRunEventFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.events.Fail = errors.New("nats: no servers available")

	rec, err := h.supervisor().Run(context.Background(), h.report())

	require.NoError(t, err)
	assert.Equal(t, string(Done), rec.State)
	assert.True(t, h.log.Contains("Failed to publish run.completed event"))
}

func TestCanTransition(t *testing.T) {
	for i := 0; i < len(Sequence)-1; i++ {
		assert.True(t, CanTransition(Sequence[i], Sequence[i+1]))
		assert.True(t, CanTransition(Sequence[i], Failed))
	}
	assert.False(t, CanTransition(Idle, Polling))
	assert.False(t, CanTransition(Publishing, Exporting))
	assert.False(t, CanTransition(Done, Failed))
	assert.False(t, CanTransition(Failed, Idle))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "DownloadTimeout", Kind(&pipeline.DownloadTimeoutError{Err: browser.ErrTimeout}))
	assert.Equal(t, "Locked", Kind(lock.ErrLocked))
	assert.Equal(t, "Timeout", Kind(browser.ErrTimeout))
	assert.Equal(t, "Error", Kind(errors.New("boom")))
}
