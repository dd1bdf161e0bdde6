package ratewindow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

func redisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	return client
}

func TestRedisWindow_Integration(t *testing.T) {
	client := redisTestClient(t)
	defer client.Close()

	w := NewRedisWindow(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("EnforcesLimitWithinWindow", func(t *testing.T) {
		creator := fmt.Sprintf("it_creator_%d", time.Now().UnixNano())
		limit := Limit{PerWindow: 2, Window: time.Minute}

		d, err := w.CheckAndConsume(ctx, creator, limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Remaining)

		d, err = w.CheckAndConsume(ctx, creator, limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = w.CheckAndConsume(ctx, creator, limit)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Greater(t, d.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, d.RetryAfter, time.Minute)
	})

	t.Run("ShortWindowResets", func(t *testing.T) {
		creator := fmt.Sprintf("it_creator_%d", time.Now().UnixNano())
		limit := Limit{PerWindow: 1, Window: 500 * time.Millisecond}

		d, err := w.CheckAndConsume(ctx, creator, limit)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = w.CheckAndConsume(ctx, creator, limit)
		require.NoError(t, err)
		require.False(t, d.Allowed)

		time.Sleep(700 * time.Millisecond)

		d, err = w.CheckAndConsume(ctx, creator, limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "a new window must allow sends again")
	})

	t.Run("RejectsInvalidLimit", func(t *testing.T) {
		_, err := w.CheckAndConsume(ctx, "creator", Limit{PerWindow: 0, Window: time.Minute})
		assert.Error(t, err)
	})
}

func TestRedisWindow_StoreUnreachableFailsClosed(t *testing.T) {
	// Port 1 is never a Redis server; the error must carry the sentinel so
	// the worker can fail closed.
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	w := NewRedisWindow(client)
	_, err := w.CheckAndConsume(context.Background(), "creatorA", Limit{PerWindow: 10, Window: time.Minute})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateStoreUnavailable))
}
