package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/auth"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/httpserver"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/memory"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/mqtt"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/postgres"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/redis"
	"github.com/crxwnd/digitalizacionTV/internal/content"
	"github.com/crxwnd/digitalizacionTV/internal/device"
	"github.com/crxwnd/digitalizacionTV/internal/dispatch"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/crxwnd/digitalizacionTV/internal/liveness"
	"github.com/crxwnd/digitalizacionTV/internal/monitor"
	"github.com/crxwnd/digitalizacionTV/internal/notification"
	"github.com/crxwnd/digitalizacionTV/internal/platform/config"
	"github.com/crxwnd/digitalizacionTV/internal/platform/logging"
	"github.com/crxwnd/digitalizacionTV/internal/platform/retry"
	"github.com/crxwnd/digitalizacionTV/internal/platform/version"
	"github.com/crxwnd/digitalizacionTV/internal/remote"
	"github.com/crxwnd/digitalizacionTV/internal/screen"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// memCacheTTL bounds how stale a replica's in-process copy can be when a
	// pub/sub invalidation is lost.
	memCacheTTL        = 10 * time.Second
	memEvictInterval   = time.Minute
	startupConnTimeout = 10 * time.Second
)

// stores is the repository set the services run on.
type stores struct {
	screens       domain.ScreenRepository
	logs          domain.ScreenLogRepository
	areas         domain.AreaDirectory
	catalog       domain.CatalogRepository
	assignments   domain.AssignmentRepository
	notifications domain.NotificationRepository
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupDB connects with retries, since the database container may still be
// starting when the coordinator comes up.
func setupDB(cfg *config.Config, clock clockwork.Clock, m *metrics.StoreMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, policy, retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, startupConnTimeout)
		defer cancel()
		return postgres.Connect(attemptCtx, cfg.DatabaseURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return pool
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		screens:       postgres.NewScreenRepo(pool),
		logs:          postgres.NewScreenLogRepo(pool),
		areas:         postgres.NewAreaDirectory(pool),
		catalog:       postgres.NewCatalogRepo(pool),
		assignments:   postgres.NewAssignmentRepo(pool),
		notifications: postgres.NewNotificationRepo(pool),
	}
}

func memoryStores(clock clockwork.Clock) stores {
	db := memory.New(clock)
	return stores{
		screens:       db.Screens(),
		logs:          db.ScreenLogs(),
		areas:         db.Areas(),
		catalog:       db.Catalog(),
		assignments:   db.Assignments(),
		notifications: db.Notifications(),
	}
}

func setupRedis(cfg *config.Config, m *metrics.CacheMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), startupConnTimeout)
	defer cancel()

	breaker := redis.NewCircuitBreakerHook(redis.BreakerSettings(m))
	client, err := redis.NewClient(ctx, cfg.RedisURL, breaker)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupMQTT connects the device bridge, retrying while the broker comes up.
func setupMQTT(ctx context.Context, cfg *config.Config, clock clockwork.Clock, inbound *device.Inbound, hub *dispatch.Dispatcher) *mqtt.Bridge {
	bridge := mqtt.NewBridge(cfg.MQTTTopicPrefix, inbound, hub)
	opts := mqtt.Options{
		BrokerURL:   cfg.MQTTBrokerURL,
		ClientID:    cfg.MQTTClientID,
		TopicPrefix: cfg.MQTTTopicPrefix,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
	}

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("MQTT broker not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	err := retry.DoVoid(ctx, policy, retry.Transient, func(context.Context) error {
		// The bridge outlives the attempt, so it gets the process context.
		return bridge.Connect(ctx, opts)
	})
	if err != nil {
		slog.Error("Failed to start MQTT bridge", "error", err)
		os.Exit(1)
	}
	return bridge
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, stop func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()
	fleetMetrics := metrics.NewFleetMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)

	var healthChecks []httpserver.HealthCheck

	var st stores
	if cfg.DatabaseURL != "" {
		pool := setupDB(cfg, clock, metrics.NewStoreMetrics(reg))
		defer pool.Close()
		st = postgresStores(pool)
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	} else {
		slog.Warn("DATABASE_URL not set, using the in-memory store; state is lost on restart")
		st = memoryStores(clock)
	}

	var cache domain.AssignmentCache
	if cfg.RedisURL != "" {
		redisClient := setupRedis(cfg, cacheMetrics)
		defer func() { _ = redisClient.Close() }()

		contentCache := redis.NewContentCache(redisClient, clock, cfg.ContentCacheTTL, memCacheTTL, cacheMetrics)
		stopEviction := contentCache.StartEvictionTimer(memEvictInterval)
		defer stopEviction()
		go redis.NewInvalidationSubscriber(redisClient, contentCache).Start(ctx)

		cache = contentCache
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	hub := dispatch.New(clock, metrics.NewDispatchMetrics(reg))
	thresholds := liveness.Thresholds{
		OnlineWindow: cfg.LivenessOnlineWindow,
		OfflineAfter: cfg.LivenessOfflineAfter,
	}

	screens := screen.NewRegistry(st.screens, st.areas, hub, clock, screen.WithMetrics(fleetMetrics))
	resolver := content.NewResolver(st.screens, st.areas, st.catalog, st.assignments, cache, hub)
	router := notification.NewRouter(st.notifications, st.screens, st.areas, hub, clock)
	channel := remote.NewChannel(st.screens, st.areas, st.logs, hub, clock, cfg.CaptureTimeout, fleetMetrics)
	fleet := monitor.New(st.screens, st.areas, clock, thresholds)
	inbound := device.NewInbound(screens, channel)

	tracker := liveness.NewTracker(st.screens, hub, clock, thresholds, cfg.LivenessSweepInterval, fleetMetrics)
	tracker.Start(ctx)

	var bridge *mqtt.Bridge
	if cfg.MQTTBrokerURL != "" {
		bridge = setupMQTT(ctx, cfg, clock, inbound, hub)
	}

	srv := httpserver.NewServer(cfg, clock, httpserver.Services{
		Screens:       screens,
		Content:       resolver,
		Notifications: router,
		Remote:        channel,
		Monitor:       fleet,
		Auth:          auth.NewJWTVerifier(cfg.JWTSecret, clock),
		Areas:         st.areas,
		Hub:           hub,
		Inbound:       inbound,
	},
		httpserver.WithMetrics(reg, metrics.NewHTTPMetrics(reg)),
		httpserver.WithHealthChecks(healthChecks...),
	)

	done := runGracefulShutdown(cfg, srv, func() {
		tracker.Stop()
		if bridge != nil {
			bridge.Close()
		}
		hub.Stop()
		cancel()
	})

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
