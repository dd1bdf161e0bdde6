// Package ratewindow enforces the per-creator send cap demanded by the
// downstream platform: at most N messages per fixed window per creator
// account, counted atomically across all worker processes.
package ratewindow

import (
	"context"
	"time"
)

// Limit describes the cap applied to one creator account.
type Limit struct {
	PerWindow int           // messages allowed per window, must be > 0
	Window    time.Duration // window length, must be > 0
}

// Decision is the outcome of a CheckAndConsume call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // time until the current window resets; 0 when allowed
}

// Window is the atomic check-and-increment primitive over the shared
// rate-window store. Implementations must never read-then-write in two
// steps: two workers racing on the same creator would both see capacity.
//
// A store error is returned wrapping domain.ErrRateStoreUnavailable;
// callers treat that as denied (fail closed).
type Window interface {
	CheckAndConsume(ctx context.Context, creatorAccountID string, limit Limit) (Decision, error)
}
