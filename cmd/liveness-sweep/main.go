// Command liveness-sweep runs a single liveness sweep against the database
// and exits. It is meant for cron jobs and for repairing the online flag
// after the coordinator has been down.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/postgres"
	"github.com/crxwnd/digitalizacionTV/internal/liveness"
	"github.com/crxwnd/digitalizacionTV/internal/platform/logging"
	"github.com/jonboulle/clockwork"
)

const sweepTimeout = time.Minute

func main() {
	var (
		databaseURL  = flag.String("database", os.Getenv("DATABASE_URL"), "PostgreSQL URL (or set DATABASE_URL env)")
		offlineAfter = flag.Duration("offline-after", 60*time.Second, "Heartbeat age at which a screen counts as offline")
		dryRun       = flag.Bool("dry-run", false, "List stale screens without marking them offline")
		verbose      = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}
	if *offlineAfter <= 0 {
		log.Fatal("--offline-after must be positive")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, *databaseURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	slog.Info("Connected to database", "url", sanitizeURL(*databaseURL))

	thresholds := liveness.Thresholds{OnlineWindow: *offlineAfter / 2, OfflineAfter: *offlineAfter}
	tracker := liveness.NewTracker(postgres.NewScreenRepo(pool), nil, clockwork.NewRealClock(), thresholds, *offlineAfter, nil)

	if *dryRun {
		stale, err := tracker.Stale(ctx)
		if err != nil {
			log.Fatalf("Failed to list stale screens: %v", err)
		}
		for _, s := range stale {
			slog.Info("Would mark offline", "screen_code", s.Code, "last_heartbeat", s.LastHeartbeat)
		}
		slog.Info("Dry run complete", "stale", len(stale))
		return
	}

	start := time.Now()
	result, err := tracker.SweepOnce(ctx)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	slog.Info("Sweep summary",
		"candidates", result.Candidates,
		"demoted", result.Demoted,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	if result.Failed > 0 {
		os.Exit(1)
	}
}

// sanitizeURL hides the password for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
