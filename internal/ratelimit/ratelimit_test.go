package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// frozenLimiter pins the clock so refill never happens mid-test.
func frozenLimiter(rdb *redis.Client, rate, burst float64) (*Limiter, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	l := New(rdb, nil, "test", rate, burst)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_BurstThenDeny(t *testing.T) {
	rdb := newMiniRedis(t)
	l, _ := frozenLimiter(rdb, 1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "a@example.com")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d within burst", i+1)
	}

	ok, wait, err := l.Allow(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	l, _ := frozenLimiter(rdb, 1, 1)
	ctx := context.Background()

	ok, _, _ := l.Allow(ctx, "a@example.com")
	assert.True(t, ok)
	ok, _, _ = l.Allow(ctx, "a@example.com")
	assert.False(t, ok)

	ok, _, _ = l.Allow(ctx, "b@example.com")
	assert.True(t, ok, "a different key has its own bucket")
}

func TestAllow_Refills(t *testing.T) {
	rdb := newMiniRedis(t)
	l, now := frozenLimiter(rdb, 2, 1)
	ctx := context.Background()

	ok, _, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	*now = now.Add(500 * time.Millisecond)
	ok, _, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "half a second at 2 tokens/s refills one token")
}

func TestReset(t *testing.T) {
	rdb := newMiniRedis(t)
	l, _ := frozenLimiter(rdb, 1, 1)
	ctx := context.Background()

	l.Allow(ctx, "k")
	ok, _, _ := l.Allow(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestAllow_DisabledAndNil(t *testing.T) {
	var nilLimiter *Limiter
	ok, _, err := nilLimiter.Allow(context.Background(), "k")
	assert.NoError(t, err)
	assert.True(t, ok)

	disabled := New(nil, nil, "", 0, 0)
	ok, _, err = disabled.Allow(context.Background(), "k")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestAllow_RedisDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	s.Close()

	l := New(rdb, nil, "test", 1, 1)
	_, _, err = l.Allow(context.Background(), "k")
	assert.Error(t, err)
}
