package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestClient(t *testing.T, hooks ...goredis.Hook) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL, hooks...)
	require.NoError(t, err)
	require.NoError(t, client.FlushAll(ctx).Err())

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, "redis://127.0.0.1:1")
	assert.Error(t, err)
}

func TestContentCache_Integration(t *testing.T) {
	hook := NewCircuitBreakerHook(BreakerSettings(nil))
	client := setupTestClient(t, hook)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	writer := NewContentCache(client, clock, time.Minute, 10*time.Second, nil)
	reader := NewContentCache(client, clock, time.Minute, 10*time.Second, nil)

	_, ok := reader.Get(ctx, code)
	require.False(t, ok)

	writer.Set(ctx, code, assignment(3))
	got, ok := reader.Get(ctx, code)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Payload.Content.ContentID)

	ttl, err := client.TTL(ctx, cacheKey(code)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, writer.Invalidate(ctx, code))
	exists, err := client.Exists(ctx, cacheKey(code)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	assert.Equal(t, gobreaker.StateClosed, hook.State(), "misses must not count against the breaker")
}

func TestInvalidationSubscriber_Integration(t *testing.T) {
	client := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()

	writer := NewContentCache(client, clock, time.Minute, time.Hour, nil)
	replica := NewContentCache(client, clock, time.Minute, time.Hour, nil)
	replica.Set(ctx, code, assignment(1))

	go NewInvalidationSubscriber(client, replica).Start(ctx)
	assert.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, invalidationChannel).Result()
		return err == nil && n[invalidationChannel] == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, writer.Invalidate(ctx, code))

	assert.Eventually(t, func() bool {
		_, ok := replica.mem.get(code)
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}
