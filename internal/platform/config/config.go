package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Space-separated dashboard origins allowed in addition to APP_URL.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	JWTSecret   string `env:"JWT_SECRET"`

	LivenessOnlineWindow  time.Duration `env:"LIVENESS_ONLINE_WINDOW" default:"30s"`
	LivenessOfflineAfter  time.Duration `env:"LIVENESS_OFFLINE_AFTER" default:"60s"`
	LivenessSweepInterval time.Duration `env:"LIVENESS_SWEEP_INTERVAL" default:"60s"`

	CaptureTimeout     time.Duration `env:"CAPTURE_TIMEOUT" default:"5s"`
	ContentCacheTTL    time.Duration `env:"CONTENT_CACHE_TTL" default:"5m"`
	HeartbeatRateLimit float64       `env:"HEARTBEAT_RATE_LIMIT" default:"2"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" default:"signage-coordinator"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" default:"signage"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if cfg.DatabaseURL == "" && cfg.IsProduction() {
		return errors.New("DATABASE_URL is required in production")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	positive := map[string]time.Duration{
		"LIVENESS_ONLINE_WINDOW":  cfg.LivenessOnlineWindow,
		"LIVENESS_OFFLINE_AFTER":  cfg.LivenessOfflineAfter,
		"LIVENESS_SWEEP_INTERVAL": cfg.LivenessSweepInterval,
		"CAPTURE_TIMEOUT":         cfg.CaptureTimeout,
		"CONTENT_CACHE_TTL":       cfg.ContentCacheTTL,
		"SHUTDOWN_TIMEOUT":        cfg.ShutdownTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if cfg.LivenessOnlineWindow >= cfg.LivenessOfflineAfter {
		return fmt.Errorf("LIVENESS_ONLINE_WINDOW (%s) must be shorter than LIVENESS_OFFLINE_AFTER (%s)",
			cfg.LivenessOnlineWindow, cfg.LivenessOfflineAfter)
	}
	if cfg.HeartbeatRateLimit <= 0 {
		return errors.New("HEARTBEAT_RATE_LIMIT must be positive")
	}

	return nil
}
