package ratewindow

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	startedAt time.Time
	sent      int
}

// MemoryWindow is a process-local Window for tests and single-node dev.
// It must not be used with horizontally scaled workers: the counter only
// covers one process.
type MemoryWindow struct {
	mu      sync.Mutex
	windows map[string]*windowState
	nowFn   func() time.Time
}

func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{
		windows: make(map[string]*windowState),
		nowFn:   time.Now,
	}
}

func (w *MemoryWindow) CheckAndConsume(_ context.Context, creatorAccountID string, limit Limit) (Decision, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFn()
	st, ok := w.windows[creatorAccountID]
	if !ok || now.Sub(st.startedAt) >= limit.Window {
		st = &windowState{startedAt: now}
		w.windows[creatorAccountID] = st
	}

	if st.sent < limit.PerWindow {
		st.sent++
		return Decision{
			Allowed:   true,
			Remaining: limit.PerWindow - st.sent,
		}, nil
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: st.startedAt.Add(limit.Window).Sub(now),
	}, nil
}
