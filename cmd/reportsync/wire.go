package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reportsync/internal/browser"
	"reportsync/internal/config"
	"reportsync/internal/events"
	"reportsync/internal/history"
	"reportsync/internal/lock"
	"reportsync/internal/logging"
	"reportsync/internal/sink"
	"reportsync/internal/supervisor"
)

// app holds the collaborators built from the configuration.
type app struct {
	cfg        *config.Config
	supervisor *supervisor.Supervisor
	history    history.Store
	redis      *redis.Client
	bus        *events.NATSBus
}

func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// normalizeRedisURL accepts either a redis:// URL or a bare host[:port].
func normalizeRedisURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		return raw
	}
	raw = strings.TrimSuffix(raw, "/")
	if !strings.Contains(raw, ":") {
		raw += ":6379"
	}
	return "redis://" + raw
}

func newRedisClient(ctx context.Context, raw string) (*redis.Client, error) {
	opt, err := redis.ParseURL(normalizeRedisURL(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach Redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}

func newApp(ctx context.Context, cfg *config.Config, dryRun bool) (*app, error) {
	a := &app{cfg: cfg}

	driver, err := browser.NewDriver(cfg.Browser, cfg.DownloadDir, logging.New("browser"))
	if err != nil {
		return nil, err
	}

	var sheet sink.Sheet
	if dryRun {
		log.Printf("🧪 [MAIN] Dry run: publishing to an in-memory sheet")
		sheet = sink.NewMemorySheet()
	} else {
		gs, err := sink.NewGoogleSheet(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.CredentialsFile, logging.New("sheets"))
		if err != nil {
			return nil, err
		}
		sheet = gs
	}

	var locker lock.Locker = lock.NewLocalLocker()
	a.history = history.NewMemoryStore(history.DefaultLimit)
	if cfg.Redis.URL != "" {
		client, err := newRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		locker = lock.NewRedisLocker(client, cfg.Redis.LockTTL)
		a.history = history.NewRedisStore(client, "", history.DefaultLimit)
		log.Printf("✅ [REDIS] Using Redis for run lock and history")
	} else {
		log.Printf("⚠️  [REDIS] REDIS_URL not set, lock and history are in-process only")
	}

	var publisher events.Publisher
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSBus(events.NATSConfig{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject})
		if err != nil {
			log.Printf("⚠️  [NATS] Failed to connect to %s, run events disabled: %v", cfg.NATS.URL, err)
		} else {
			a.bus = bus
			publisher = bus
			log.Printf("✅ [NATS] Publishing run events on %s.*", bus.Subject())
		}
	}

	a.supervisor = supervisor.New(cfg, supervisor.Options{
		Driver:  driver,
		Sheet:   sheet,
		Locker:  locker,
		History: a.history,
		Events:  publisher,
		Logger:  logging.New("run"),
	})
	return a, nil
}
