// Package supervisor runs one report end to end: it owns the browser
// session, walks the stages in order, and is the single place a failure is
// logged as fatal, snapshotted and recorded.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/events"
	"reportsync/internal/history"
	"reportsync/internal/interact"
	"reportsync/internal/lock"
	"reportsync/internal/logging"
	"reportsync/internal/pipeline"
	"reportsync/internal/sink"
)

// Options are the collaborators of a Supervisor. Driver and Sheet are
// required; everything else has an in-process default.
type Options struct {
	Driver  browser.Driver
	Sheet   sink.Sheet
	Locker  lock.Locker
	History history.Store
	Events  events.Publisher
	Logger  logging.Logger
	Sleep   pipeline.Sleeper
	Now     func() time.Time
}

type Supervisor struct {
	cfg     *config.Config
	driver  browser.Driver
	sheet   sink.Sheet
	locker  lock.Locker
	history history.Store
	events  events.Publisher
	logger  logging.Logger
	sleep   pipeline.Sleeper
	now     func() time.Time
}

func New(cfg *config.Config, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		driver:  opts.Driver,
		sheet:   opts.Sheet,
		locker:  opts.Locker,
		history: opts.History,
		events:  opts.Events,
		logger:  opts.Logger,
		sleep:   opts.Sleep,
		now:     opts.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.history == nil {
		s.history = history.NewMemoryStore(history.DefaultLimit)
	}
	if s.logger == nil {
		s.logger = logging.New("supervisor")
	}
	if s.sleep == nil {
		s.sleep = pipeline.Sleep
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// History exposes the store runs are recorded in.
func (s *Supervisor) History() history.Store { return s.history }

// run is the mutable state of one execution.
type run struct {
	rec     history.Record
	state   State
	session browser.Session
	logger  logging.Logger
	now     func() time.Time
}

func (r *run) enter(to State) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("illegal transition %s -> %s", r.state, to))
	}
	r.logger.Printf("🔄 %s → %s", r.state, to)
	r.state = to
	r.rec.State = string(to)
	r.rec.Transitions = append(r.rec.Transitions, history.Transition{State: string(to), At: r.now()})
}

// Run executes one report. A run that finds its destination tab locked
// returns lock.ErrLocked without opening a browser and is not recorded.
// Every other outcome is recorded and announced; the returned error is the
// cause of a Failed run.
func (s *Supervisor) Run(ctx context.Context, report config.ReportConfig) (history.Record, error) {
	runID := uuid.New().String()
	r := &run{
		rec: history.Record{
			RunID:     runID,
			Report:    report.Prefix,
			Tab:       report.SheetTab,
			State:     string(Idle),
			StartedAt: s.now(),
		},
		state:  Idle,
		logger: &runLogger{base: s.logger, prefix: fmt.Sprintf("[%s %s] ", report.Prefix, runID[:8])},
		now:    s.now,
	}

	key := lock.Key(s.cfg.Sheets.SpreadsheetID, report.SheetTab)
	unlock, err := s.locker.TryLock(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			r.logger.Printf("⏭️ Skipping run, tab %q is being written by another run", report.SheetTab)
		}
		return r.rec, err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			r.logger.Printf("⚠️ Failed to release lock %s: %v", key, err)
		}
	}()

	err = s.execute(ctx, r, report)
	if err != nil {
		s.fail(r, err)
	}
	r.rec.FinishedAt = s.now()

	if err == nil {
		r.logger.Printf("✅ Process %s completed: %d rows published to %q in %s",
			report.Prefix, r.rec.Rows, report.SheetTab, r.rec.Duration().Round(time.Second))
	}
	s.record(r)
	return r.rec, err
}

// execute opens the session and walks the stages. Teardown is deferred so
// it happens on every path, after any failure snapshot has been taken.
func (s *Supervisor) execute(ctx context.Context, r *run, report config.ReportConfig) (err error) {
	session, err := s.driver.Open(ctx)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	r.session = session
	defer func() {
		if err != nil {
			s.fail(r, err)
			s.snapshot(r)
		}
		if cerr := session.Close(); cerr != nil {
			r.logger.Printf("⚠️ Failed to close browser session: %v", cerr)
		}
		r.session = nil
		r.logger.Printf("🧹 Browser session closed")
	}()

	deps := pipeline.NewDeps(session.Page(), s.cfg.Waits, s.sleep, r.logger)

	var (
		ready    browser.Locator
		artifact string
	)
	steps := []struct {
		state State
		do    func(context.Context) error
	}{
		{LoggingIn, func(ctx context.Context) error {
			login := &pipeline.Login{Deps: deps, URL: s.cfg.URLs.Login, Credentials: s.cfg.Credentials}
			return login.Run(ctx)
		}},
		{DismissingPopup, func(ctx context.Context) error {
			res, err := (&pipeline.PopupDismisser{Deps: deps}).Dismiss(ctx)
			r.rec.PopupFound, r.rec.PopupClosed, r.rec.PopupTactic = res.Present, res.Closed, res.Tactic
			return err
		}},
		{Exporting, func(ctx context.Context) error {
			return (&pipeline.ExportTrigger{Deps: deps, ListingURL: report.ListingURL}).Trigger(ctx)
		}},
		{Polling, func(ctx context.Context) error {
			poller := &pipeline.TaskCenterPoller{Deps: deps, URL: s.cfg.URLs.TaskCenter, DiagDir: s.cfg.DiagDir}
			loc, err := poller.Poll(ctx)
			ready = loc
			return err
		}},
		{Retrieving, func(ctx context.Context) error {
			path, err := (&pipeline.Retriever{Deps: deps, DownloadDir: s.cfg.DownloadDir}).Retrieve(ctx, ready)
			if err != nil {
				return err
			}
			m := &pipeline.Materializer{Dir: s.cfg.DownloadDir, Prefix: report.Prefix, Now: s.now, Logger: r.logger}
			artifact, err = m.Materialize(path)
			r.rec.Artifact = artifact
			return err
		}},
		{Publishing, func(ctx context.Context) error {
			res, err := sink.NewPublisher(s.sheet, report.SheetTab, r.logger).Publish(ctx, artifact)
			r.rec.Rows, r.rec.Published = res.Rows, err == nil && !res.Skipped
			return err
		}},
	}

	for _, step := range steps {
		r.enter(step.state)
		if err := step.do(ctx); err != nil {
			return err
		}
	}
	r.enter(Done)
	return nil
}

// fail moves the run to Failed once; later calls are no-ops.
func (s *Supervisor) fail(r *run, err error) {
	if r.state.Terminal() {
		return
	}
	r.rec.Error = err.Error()
	r.rec.ErrorKind = Kind(err)
	r.enter(Failed)
	r.logger.Errorf("Run failed (%s): %v", r.rec.ErrorKind, err)
}

// snapshot saves a screenshot and the page HTML of a failing run into the
// diagnostics dir. It runs while the session is still open.
func (s *Supervisor) snapshot(r *run) {
	if r.session == nil || s.cfg.DiagDir == "" {
		return
	}
	if err := os.MkdirAll(s.cfg.DiagDir, 0755); err != nil {
		r.logger.Printf("⚠️ Failed to create diagnostics dir: %v", err)
		return
	}
	page := r.session.Page()

	png := filepath.Join(s.cfg.DiagDir, r.rec.RunID+".png")
	if err := page.Screenshot(png); err != nil {
		r.logger.Printf("⚠️ Failed to save screenshot: %v", err)
	} else {
		r.rec.Diagnostics = append(r.rec.Diagnostics, png)
	}

	html, err := page.Content()
	if err != nil || html == "" {
		return
	}
	htmlPath := filepath.Join(s.cfg.DiagDir, r.rec.RunID+".html")
	if err := os.WriteFile(htmlPath, []byte(html), 0644); err != nil {
		r.logger.Printf("⚠️ Failed to save snapshot: %v", err)
		return
	}
	r.rec.Diagnostics = append(r.rec.Diagnostics, htmlPath)
	r.logger.Printf("📸 Saved failure snapshot to %s", htmlPath)
}

// record stores and announces the finished run. Neither may fail the run.
func (s *Supervisor) record(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.history.Add(ctx, r.rec); err != nil {
		r.logger.Printf("⚠️ Failed to store run history: %v", err)
	}
	if s.events == nil {
		return
	}
	evtType := events.TypeRunCompleted
	if r.state == Failed {
		evtType = events.TypeRunFailed
	}
	evt := events.RunEvent{
		EventID:   events.NewEventID("run_", r.rec.FinishedAt),
		Source:    "reportsync",
		Type:      evtType,
		Timestamp: r.rec.FinishedAt,
		Context:   events.RunContext{RunID: r.rec.RunID, Report: r.rec.Report, Tab: r.rec.Tab},
		Payload: events.RunPayload{
			State:       r.rec.State,
			Error:       r.rec.Error,
			ErrorKind:   r.rec.ErrorKind,
			Rows:        r.rec.Rows,
			Artifact:    r.rec.Artifact,
			PopupClosed: r.rec.PopupClosed,
			DurationSec: r.rec.Duration().Seconds(),
		},
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		r.logger.Printf("⚠️ Failed to publish %s event: %v", evtType, err)
	}
}

// Kind names the failure category of err.
func Kind(err error) string {
	var (
		interaction *interact.InteractionFailedError
		notReady    *pipeline.ArtifactNotReadyError
		dlTimeout   *pipeline.DownloadTimeoutError
		sinkFailed  *sink.SinkWriteFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &interaction):
		return "InteractionFailed"
	case errors.As(err, &notReady):
		return "ArtifactNotReady"
	case errors.As(err, &dlTimeout):
		return "DownloadTimeout"
	case errors.As(err, &sinkFailed):
		return "SinkWriteFailed"
	case errors.Is(err, lock.ErrLocked):
		return "Locked"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case browser.IsTimeout(err):
		return "Timeout"
	default:
		return "Error"
	}
}

// runLogger prefixes every line with the report and run id.
type runLogger struct {
	base   logging.Logger
	prefix string
}

func (l *runLogger) Printf(format string, v ...interface{}) {
	l.base.Printf(l.prefix+format, v...)
}

func (l *runLogger) Errorf(format string, v ...interface{}) {
	l.base.Errorf(l.prefix+format, v...)
}
