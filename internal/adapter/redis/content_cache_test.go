package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	"github.com/crxwnd/digitalizacionTV/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const code = "SCR-LOBBY001"

type cacheFixture struct {
	mr      *miniredis.Miniredis
	rdb     *goredis.Client
	clock   *clockwork.FakeClock
	metrics *metrics.CacheMetrics
	cache   *ContentCache
}

func newCacheFixture(t *testing.T) *cacheFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := clockwork.NewFakeClock()
	m := metrics.NewCacheMetrics(prometheus.NewRegistry())
	return &cacheFixture{
		mr:      mr,
		rdb:     rdb,
		clock:   clock,
		metrics: m,
		cache:   NewContentCache(rdb, clock, 5*time.Minute, 10*time.Second, m),
	}
}

func assignment(contentID int64) *domain.ContentAssignment {
	return &domain.ContentAssignment{
		ID:         7,
		ScreenID:   1,
		ScreenCode: code,
		ContentID:  &contentID,
		Payload: domain.AssignmentPayload{
			Kind: domain.KindContent,
			Content: &domain.PlayableItem{
				ContentID:       contentID,
				Title:           "Welcome",
				Type:            domain.ContentImage,
				URL:             "/uploads/welcome.png",
				DisplayDuration: 10,
			},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestContentCache_Miss(t *testing.T) {
	f := newCacheFixture(t)

	a, ok := f.cache.Get(context.Background(), code)

	assert.False(t, ok)
	assert.Nil(t, a)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Misses))
	assert.Zero(t, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("get")))
}

func TestContentCache_SetWritesRedisWithTTL(t *testing.T) {
	f := newCacheFixture(t)

	f.cache.Set(context.Background(), code, assignment(1))

	require.True(t, f.mr.Exists(cacheKey(code)))
	assert.Equal(t, 5*time.Minute, f.mr.TTL(cacheKey(code)))
}

func TestContentCache_ServesFromRedisAfterMemoryExpires(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	want := assignment(1)
	f.cache.Set(ctx, code, want)

	f.clock.Advance(time.Minute)
	got, ok := f.cache.Get(ctx, code)

	require.True(t, ok)
	assert.Equal(t, want.Payload, got.Payload)
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Hits))
}

func TestContentCache_MemoryLayerShieldsRedis(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	f.cache.Set(ctx, code, assignment(1))

	f.mr.Close()
	got, ok := f.cache.Get(ctx, code)

	require.True(t, ok)
	assert.Equal(t, int64(1), got.Payload.Content.ContentID)
}

func TestContentCache_RedisExpiry(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	f.cache.Set(ctx, code, assignment(1))

	f.clock.Advance(time.Minute)
	f.mr.FastForward(6 * time.Minute)

	_, ok := f.cache.Get(ctx, code)
	assert.False(t, ok)
}

func TestContentCache_Invalidate(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	f.cache.Set(ctx, code, assignment(1))

	require.NoError(t, f.cache.Invalidate(ctx, code))

	assert.False(t, f.mr.Exists(cacheKey(code)))
	_, ok := f.cache.Get(ctx, code)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Invalidations))
}

func TestContentCache_CorruptEntryIsAMiss(t *testing.T) {
	f := newCacheFixture(t)
	require.NoError(t, f.mr.Set(cacheKey(code), "{not json"))

	_, ok := f.cache.Get(context.Background(), code)

	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("decode")))
}

func TestContentCache_RedisDownDegradesToMiss(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	f.mr.Close()

	f.cache.Set(ctx, code, assignment(1))
	f.clock.Advance(time.Minute)
	_, ok := f.cache.Get(ctx, code)

	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("get")))
	assert.Error(t, f.cache.Invalidate(ctx, code))
}

func TestContentCache_EvictionTimer(t *testing.T) {
	f := newCacheFixture(t)
	f.cache.Set(context.Background(), code, assignment(1))

	stop := f.cache.StartEvictionTimer(30 * time.Second)
	defer stop()

	f.clock.Advance(15 * time.Second)
	require.NoError(t, f.clock.BlockUntilContext(context.Background(), 1))
	f.clock.Advance(15 * time.Second)

	assert.Eventually(t, func() bool { return f.cache.mem.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestInvalidationSubscriber_DropsLocalEntry(t *testing.T) {
	f := newCacheFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A second replica with its own in-process layer over the same Redis.
	replica := NewContentCache(f.rdb, f.clock, 5*time.Minute, time.Hour, nil)
	replica.Set(ctx, code, assignment(1))

	sub := NewInvalidationSubscriber(f.rdb, replica)
	done := make(chan struct{})
	go func() {
		sub.Start(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		return len(f.mr.PubSubChannels("")) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.cache.Invalidate(ctx, code))

	assert.Eventually(t, func() bool {
		_, ok := replica.mem.get(code)
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
