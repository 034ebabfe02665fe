// Package scheduler triggers report runs on their cron schedules and on
// demand, and serves their status over HTTP.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reportsync/internal/config"
	"reportsync/internal/history"
	"reportsync/internal/lock"
)

var (
	// ErrBusy is returned when a run for the same tab is already in flight
	// in this process.
	ErrBusy    = errors.New("scheduler: run already in progress")
	ErrStopped = errors.New("scheduler: stopped")
)

// Runner executes one report run.
type Runner interface {
	Run(ctx context.Context, report config.ReportConfig) (history.Record, error)
}

// Scheduler manages scheduled and manual execution of report runs.
type Scheduler struct {
	cfg        *config.Config
	runner     Runner
	cron       *cron.Cron
	entries    map[string]cron.EntryID // prefix -> entryID
	inflight   map[string]bool         // sheet tab -> running
	mutex      sync.Mutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	runTimeout time.Duration
}

func New(cfg *config.Config, runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	timeout := cfg.Redis.LockTTL
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Scheduler{
		cfg:        cfg,
		runner:     runner,
		cron:       cron.New(cron.WithSeconds()),
		entries:    make(map[string]cron.EntryID),
		inflight:   make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
		runTimeout: timeout,
	}
}

// Start registers every report that has a schedule and starts the cron.
func (s *Scheduler) Start() error {
	log.Printf("⏰ [SCHEDULER] Starting report scheduler...")
	scheduled := 0
	for _, report := range s.cfg.Reports {
		if report.Schedule == "" {
			continue
		}
		if err := s.ScheduleReport(report); err != nil {
			return fmt.Errorf("schedule report %s: %w", report.Prefix, err)
		}
		scheduled++
		log.Printf("✅ [SCHEDULER] Scheduled report %s with cron: %s", report.Prefix, report.Schedule)
	}
	s.cron.Start()
	log.Printf("✅ [SCHEDULER] Scheduler started with %d scheduled report(s)", scheduled)
	return nil
}

// ScheduleReport (re)registers report on its cron expression.
func (s *Scheduler) ScheduleReport(report config.ReportConfig) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if entryID, exists := s.entries[report.Prefix]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, report.Prefix)
	}

	entryID, err := s.cron.AddFunc(report.Schedule, func() {
		log.Printf("⏰ [SCHEDULER] Triggering scheduled run: report=%s", report.Prefix)
		if err := s.Trigger(report.Prefix); err != nil {
			log.Printf("⚠️ [SCHEDULER] Scheduled run of %s not started: %v", report.Prefix, err)
		}
	})
	if err != nil {
		return err
	}
	s.entries[report.Prefix] = entryID
	return nil
}

// Scheduled lists the prefixes with a cron entry.
func (s *Scheduler) Scheduled() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, r := range s.cfg.Reports {
		if _, ok := s.entries[r.Prefix]; ok {
			out = append(out, r.Prefix)
		}
	}
	return out
}

// Trigger starts a run of the report in the background. It refuses with
// ErrBusy while a run for the same tab is in flight here; runs in other
// processes are excluded by the supervisor's lock.
func (s *Scheduler) Trigger(prefix string) error {
	report, err := s.cfg.Report(prefix)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	if s.ctx.Err() != nil {
		s.mutex.Unlock()
		return ErrStopped
	}
	if s.inflight[report.SheetTab] {
		s.mutex.Unlock()
		return fmt.Errorf("%w: tab %q", ErrBusy, report.SheetTab)
	}
	s.inflight[report.SheetTab] = true
	s.wg.Add(1)
	s.mutex.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mutex.Lock()
			delete(s.inflight, report.SheetTab)
			s.mutex.Unlock()
		}()

		ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
		defer cancel()

		rec, err := s.runner.Run(ctx, report)
		switch {
		case errors.Is(err, lock.ErrLocked):
			log.Printf("⏭️ [SCHEDULER] Report %s skipped: %v", report.Prefix, err)
		case err != nil:
			log.Printf("❌ [SCHEDULER] Report %s run %s failed: %v", report.Prefix, rec.RunID, err)
		default:
			log.Printf("✅ [SCHEDULER] Report %s run %s completed (%d rows)", report.Prefix, rec.RunID, rec.Rows)
		}
	}()
	return nil
}

// Busy reports whether a run for the report's tab is in flight.
func (s *Scheduler) Busy(prefix string) bool {
	report, err := s.cfg.Report(prefix)
	if err != nil {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.inflight[report.SheetTab]
}

// Stop stops the cron, cancels in-flight runs and waits for them to end.
func (s *Scheduler) Stop() {
	log.Printf("⏰ [SCHEDULER] Stopping scheduler...")
	s.mutex.Lock()
	s.cancel()
	s.mutex.Unlock()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Printf("✅ [SCHEDULER] Scheduler stopped")
}
