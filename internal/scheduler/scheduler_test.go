package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportsync/internal/config"
	"reportsync/internal/history"
)

// blockingRunner records runs and holds each one until released.
type blockingRunner struct {
	mu      sync.Mutex
	started chan string
	release chan struct{}
	store   history.Store
}

func newBlockingRunner(store history.Store) *blockingRunner {
	return &blockingRunner{
		started: make(chan string, 10),
		release: make(chan struct{}),
		store:   store,
	}
}

func (b *blockingRunner) Run(ctx context.Context, report config.ReportConfig) (history.Record, error) {
	b.started <- report.Prefix
	select {
	case <-b.release:
	case <-ctx.Done():
		return history.Record{}, ctx.Err()
	}
	rec := history.Record{RunID: "run-" + report.Prefix, Report: report.Prefix, State: "Done", Rows: 2}
	b.mu.Lock()
	defer b.mu.Unlock()
	return rec, b.store.Add(ctx, rec)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Reports = append(cfg.Reports, config.ReportConfig{
		Prefix:     "PROD",
		ListingURL: "https://spx.shopee.com.br/#/hubLinehaulTrips/trip",
		SheetTab:   "Base Prod",
	})
	return cfg
}

func waitStarted(t *testing.T, r *blockingRunner) string {
	t.Helper()
	select {
	case p := <-r.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
		return ""
	}
}

func TestTriggerRefusesSecondRunForSameTab(t *testing.T) {
	store := history.NewMemoryStore(10)
	runner := newBlockingRunner(store)
	s := New(testConfig(), runner)
	defer s.Stop()

	require.NoError(t, s.Trigger("PEND"))
	assert.Equal(t, "PEND", waitStarted(t, runner))
	assert.True(t, s.Busy("PEND"))

	assert.ErrorIs(t, s.Trigger("pend"), ErrBusy)
	require.NoError(t, s.Trigger("PROD"))
	waitStarted(t, runner)

	close(runner.release)
	assert.Eventually(t, func() bool { return !s.Busy("PEND") && !s.Busy("PROD") }, 2*time.Second, 10*time.Millisecond)

	recs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestTriggerUnknownReport(t *testing.T) {
	s := New(testConfig(), newBlockingRunner(history.NewMemoryStore(1)))
	defer s.Stop()
	assert.Error(t, s.Trigger("NOPE"))
}

func TestStartSchedulesReportsWithCron(t *testing.T) {
	s := New(testConfig(), newBlockingRunner(history.NewMemoryStore(1)))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, []string{"PEND"}, s.Scheduled())

	bad := config.ReportConfig{Prefix: "BAD", Schedule: "not a cron"}
	assert.Error(t, s.ScheduleReport(bad))
}

func TestStopCancelsInflightRuns(t *testing.T) {
	runner := newBlockingRunner(history.NewMemoryStore(1))
	s := New(testConfig(), runner)

	require.NoError(t, s.Trigger("PEND"))
	waitStarted(t, runner)
	s.Stop()

	assert.False(t, s.Busy("PEND"))
	assert.ErrorIs(t, s.Trigger("PEND"), ErrStopped)
}

func TestAPI(t *testing.T) {
	store := history.NewMemoryStore(10)
	runner := newBlockingRunner(store)
	s := New(testConfig(), runner)
	defer s.Stop()
	srv := httptest.NewServer(NewRouter(s, store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/runs/PEND", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitStarted(t, runner)

	resp, err = http.Post(srv.URL+"/runs/PEND", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/runs/NOPE", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, []interface{}{"PEND"}, health["running"])

	close(runner.release)
	assert.Eventually(t, func() bool { return !s.Busy("PEND") }, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(srv.URL + "/runs/latest")
	require.NoError(t, err)
	var rec history.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	assert.Equal(t, "run-PEND", rec.RunID)

	resp, err = http.Get(srv.URL + "/runs?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/runs?limit=5")
	require.NoError(t, err)
	var recs []history.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	resp.Body.Close()
	assert.Len(t, recs, 1)
}
