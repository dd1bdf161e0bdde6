package ratewindow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// fixedWindowScript does the whole check-and-consume in one atomic step on
// the Redis server. The key is bucketed by window index so a new window is
// a fresh counter; expired buckets are garbage collected by a TTL of twice
// the window length.
//
// Returns {allowed, remaining, retry_after_ms}.
const fixedWindowScript = `
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)
local slot = math.floor(now / window)
local key = KEYS[1] .. ":" .. slot
local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window * 2)
end
if current <= limit then
  return {1, limit - current, 0}
end
return {0, 0, (slot + 1) * window - now}
`

// RedisWindow is the production Window implementation, shared by all
// horizontally scaled worker instances.
type RedisWindow struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (w *RedisWindow) CheckAndConsume(ctx context.Context, creatorAccountID string, limit Limit) (Decision, error) {
	if limit.PerWindow <= 0 || limit.Window <= 0 {
		return Decision{}, fmt.Errorf("invalid rate limit: per_window=%d window=%s", limit.PerWindow, limit.Window)
	}

	key := "ratewindow:" + creatorAccountID
	res, err := w.script.Run(ctx, w.client, []string{key},
		limit.PerWindow,
		limit.Window.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", domain.ErrRateStoreUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script response %v", domain.ErrRateStoreUnavailable, res)
	}

	allowed, err1 := toInt64(values[0])
	remaining, err2 := toInt64(values[1])
	retryAfterMs, err3 := toInt64(values[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", domain.ErrRateStoreUnavailable, err)
	}

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("expected int64 in script response, got %T", v)
	}
	return n, nil
}
