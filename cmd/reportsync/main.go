package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/events"
	"reportsync/internal/lock"
	"reportsync/internal/scheduler"
)

const (
	exitFailed = 1
	exitLocked = 2
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to reportsync YAML config")
		report     = flag.String("report", "", "Report prefix to run (default: first configured)")
		mode       = flag.String("mode", "run", "run | serve | install | watch")
		dryRun     = flag.Bool("dry-run", false, "Publish to an in-memory sheet instead of Google Sheets")
		httpAddr   = flag.String("http", "", "HTTP listen addr for serve mode")
		natsURL    = flag.String("nats", "", "NATS URL for watch mode")
	)
	flag.Parse()

	switch *mode {
	case "install":
		log.Printf("📦 [MAIN] Installing Playwright browsers...")
		if err := browser.InstallPlaywright(); err != nil {
			log.Fatalf("failed to install playwright: %v", err)
		}
		log.Printf("✅ [MAIN] Playwright installed")
		return
	case "watch":
		url := *natsURL
		if env := os.Getenv("NATS_URL"); url == "" && env != "" {
			url = env
		}
		if url == "" {
			url = nats.DefaultURL
		}
		if err := watch(url); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
		return
	case "run", "serve":
	default:
		log.Fatalf("unknown mode %q (want run, serve, install or watch)", *mode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *dryRun)
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}
	defer a.Close()

	if *mode == "serve" {
		if err := serve(ctx, a); err != nil {
			log.Fatalf("server failed: %v", err)
		}
		return
	}
	code := runOnce(ctx, a, *report)
	a.Close()
	stop()
	os.Exit(code)
}

func runOnce(ctx context.Context, a *app, prefix string) int {
	report, err := a.cfg.Report(prefix)
	if err != nil {
		log.Printf("❌ [MAIN] %v", err)
		return exitFailed
	}
	log.Printf("🚀 [MAIN] Running report %s -> tab %q", report.Prefix, report.SheetTab)
	rec, err := a.supervisor.Run(ctx, report)
	switch {
	case errors.Is(err, lock.ErrLocked):
		log.Printf("⏭️ [MAIN] Another run holds the lock for %q", report.SheetTab)
		return exitLocked
	case err != nil:
		log.Printf("❌ [MAIN] Run %s failed in %s: %v", rec.RunID, rec.Duration().Round(time.Millisecond), err)
		if len(rec.Diagnostics) > 0 {
			log.Printf("📸 [MAIN] Diagnostics: %v", rec.Diagnostics)
		}
		return exitFailed
	}
	return 0
}

func serve(ctx context.Context, a *app) error {
	sched := scheduler.New(a.cfg, a.supervisor)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           scheduler.NewRouter(sched, a.history),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 [MAIN] Listening on %s", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Printf("🛑 [MAIN] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func watch(url string) error {
	bus, err := events.NewNATSBus(events.NATSConfig{URL: url, Subject: os.Getenv("REPORTSYNC_NATS_SUBJECT")})
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := bus.Subscribe(ctx, func(evt events.RunEvent) {
		p := evt.Payload
		if p.Error != "" {
			log.Printf("📨 [WATCH] %s %s report=%s state=%s kind=%s error=%s", evt.Type, evt.Context.RunID, evt.Context.Report, p.State, p.ErrorKind, p.Error)
			return
		}
		log.Printf("📨 [WATCH] %s %s report=%s rows=%d artifact=%s (%.1fs)", evt.Type, evt.Context.RunID, evt.Context.Report, p.Rows, p.Artifact, p.DurationSec)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	log.Printf("👂 [WATCH] Listening on %s.>", bus.Subject())
	<-ctx.Done()
	return nil
}
