// Package pipeline holds the browser stages of a run: login, popup
// dismissal, export trigger, task-center polling, artifact retrieval and
// materialization. Each stage is synchronous and owns no session state.
package pipeline

import (
	"context"
	"time"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/interact"
	"reportsync/internal/logging"
)

// Sleeper blocks for d or until ctx is done. Settle waits go through it so
// tests can run the stages without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Deps is what every browser stage needs.
type Deps struct {
	Page   browser.Page
	Waits  config.Waits
	Sleep  Sleeper
	Logger logging.Logger
}

// NewDeps fills in the real sleeper and a tagged logger when omitted.
func NewDeps(page browser.Page, waits config.Waits, sleep Sleeper, logger logging.Logger) Deps {
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = logging.New("pipeline")
	}
	if waits == nil {
		waits = config.DefaultWaits()
	}
	return Deps{Page: page, Waits: waits, Sleep: sleep, Logger: logger}
}

func (d Deps) ui() *interact.Interactor {
	return interact.New(d.Page, d.Waits.Get(config.WaitTechnique), d.Logger)
}

// settle performs the fixed wait configured for stage.
func (d Deps) settle(ctx context.Context, stage string) error {
	return d.Sleep(ctx, d.Waits.Get(stage))
}

func (d Deps) goTo(ctx context.Context, url string) error {
	return d.Page.Goto(ctx, url, d.Waits.Get(config.WaitNavigation))
}
