// Package redis backs the content-for-screen cache with Redis. Redis is only
// ever a cache here; every value can be rebuilt from the store.
package redis

import (
	"context"
	"fmt"

	"github.com/crxwnd/digitalizacionTV/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// URL, names the connection after the service,
// installs the given hooks and pings.
func NewClient(ctx context.Context, redisURL string, hooks ...goredis.Hook) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if opts.ClientName == "" {
		opts.ClientName = version.Service
	}

	rdb := goredis.NewClient(opts)
	for _, h := range hooks {
		rdb.AddHook(h)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
