package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// InvalidationSubscriber drops in-process cache entries when any replica
// invalidates a screen's content.
type InvalidationSubscriber struct {
	rdb   *goredis.Client
	cache *ContentCache
}

func NewInvalidationSubscriber(rdb *goredis.Client, cache *ContentCache) *InvalidationSubscriber {
	return &InvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx ends or the subscription closes.
func (s *InvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, invalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handle(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *InvalidationSubscriber) handle(code string) {
	if code == "" {
		slog.Warn("Empty content cache invalidation message")
		return
	}
	s.cache.forgetLocal(code)
	slog.Debug("Content cache entry dropped via pub/sub", "screen_code", code)
}
