package ratewindow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow_AllowsUpToLimit(t *testing.T) {
	w := NewMemoryWindow()
	limit := Limit{PerWindow: 2, Window: time.Minute}

	d1, err := w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)
	assert.Equal(t, 1, d1.Remaining)

	d2, err := w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.True(t, d2.Allowed)
	assert.Equal(t, 0, d2.Remaining)

	d3, err := w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
	assert.Greater(t, d3.RetryAfter, 59*time.Second)
	assert.LessOrEqual(t, d3.RetryAfter, time.Minute)
}

func TestMemoryWindow_IndependentPerCreator(t *testing.T) {
	w := NewMemoryWindow()
	limit := Limit{PerWindow: 1, Window: time.Minute}

	d1, err := w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	d2, err := w.CheckAndConsume(context.Background(), "creatorB", limit)
	require.NoError(t, err)
	assert.True(t, d2.Allowed, "creatorB must not share creatorA's window")
}

func TestMemoryWindow_ResetAfterWindow(t *testing.T) {
	w := NewMemoryWindow()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.nowFn = func() time.Time { return now }
	limit := Limit{PerWindow: 1, Window: time.Minute}

	d, err := w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// Crossing the window boundary resets the counter.
	now = now.Add(time.Minute)
	d, err = w.CheckAndConsume(context.Background(), "creatorA", limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryWindow_ConcurrentNeverExceedsLimit(t *testing.T) {
	w := NewMemoryWindow()
	limit := Limit{PerWindow: 10, Window: time.Minute}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := w.CheckAndConsume(context.Background(), "creatorA", limit)
			if err != nil {
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed, "exactly PerWindow calls may be allowed inside one window")
}
