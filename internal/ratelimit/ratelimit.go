package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultResetMargin = time.Second

// Limiter enforces a minimum interval between successive calls. It is
// a pure delay primitive: Wait suspends the caller just long enough
// that no two calls proceed closer together than 1/callsPerSecond.
type Limiter struct {
	interval *rate.Limiter
}

// New builds a Limiter allowing callsPerSecond sustained calls.
func New(callsPerSecond float64) *Limiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &Limiter{interval: rate.NewLimiter(rate.Limit(callsPerSecond), 1)}
}

// Wait blocks until the next call may proceed.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.interval.Wait(ctx)
}

// Snapshot reports the current window bookkeeping of a QuotaLimiter.
type Snapshot struct {
	Calls    int       `json:"calls"`
	MaxCalls int       `json:"max_calls"`
	ResetAt  time.Time `json:"reset_at"`
}

// QuotaLimiter enforces the minimum inter-call interval plus a rolling
// quota of maxCalls per window. Once the quota is spent, Wait blocks
// until the window boundary plus a small safety margin, then starts a
// fresh window. Counters are mutex-guarded so a single instance can be
// shared process-wide.
type QuotaLimiter struct {
	interval *rate.Limiter
	window   time.Duration
	maxCalls int
	margin   time.Duration

	mu      sync.Mutex
	calls   int
	resetAt time.Time
}

// NewQuota builds a QuotaLimiter with maxCalls per window on top of a
// callsPerSecond interval floor.
func NewQuota(callsPerSecond float64, maxCalls int, window time.Duration) *QuotaLimiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &QuotaLimiter{
		interval: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
		window:   window,
		maxCalls: maxCalls,
		margin:   defaultResetMargin,
	}
}

// Wait blocks until a call may proceed under both the interval floor
// and the window quota.
func (q *QuotaLimiter) Wait(ctx context.Context) error {
	q.mu.Lock()
	now := time.Now()
	if q.resetAt.IsZero() {
		q.resetAt = now.Add(q.window)
	}
	// Roll the window only once the boundary has passed.
	if !now.Before(q.resetAt) {
		q.calls = 0
		q.resetAt = now.Add(q.window)
	}

	if q.calls >= q.maxCalls {
		pause := q.resetAt.Sub(now) + q.margin
		q.mu.Unlock()
		if err := sleep(ctx, pause); err != nil {
			return err
		}
		q.mu.Lock()
		q.calls = 0
		q.resetAt = time.Now().Add(q.window)
	}
	q.calls++
	q.mu.Unlock()

	return q.interval.Wait(ctx)
}

// ResetWindow zeroes the quota bookkeeping and starts a new window.
// The analysis engine calls this after an upstream-imposed cooldown.
func (q *QuotaLimiter) ResetWindow() {
	q.mu.Lock()
	q.calls = 0
	q.resetAt = time.Now().Add(q.window)
	q.mu.Unlock()
}

// Snapshot returns the current quota state for diagnostics.
func (q *QuotaLimiter) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{Calls: q.calls, MaxCalls: q.maxCalls, ResetAt: q.resetAt}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
