package services

import (
	"context"
	"sync/atomic"
	"time"

	contextutils "commentaryapp/internal/utils"

	"golang.org/x/sync/semaphore"
)

// RateLimiterStats is a point-in-time view of a limiter
type RateLimiterStats struct {
	Name          string `json:"name"`
	MaxConcurrent int    `json:"max_concurrent"`
	DelayMS       int64  `json:"delay_ms"`
	Active        int64  `json:"active"`
	Waiting       int64  `json:"waiting"`
	TotalAcquired int64  `json:"total_acquired"`
}

// ProviderRateLimiter bounds concurrent calls to one provider slot and spaces them out.
// Waiters are served in FIFO order. After a caller becomes active it always waits delay
// before Acquire returns, even when a slot was free immediately.
type ProviderRateLimiter struct {
	name          string
	sem           *semaphore.Weighted
	maxConcurrent int
	delay         time.Duration

	active   atomic.Int64
	waiting  atomic.Int64
	acquired atomic.Int64
}

// NewProviderRateLimiter creates a limiter; maxConcurrent below one is treated as one
func NewProviderRateLimiter(name string, maxConcurrent int, delay time.Duration) *ProviderRateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &ProviderRateLimiter{
		name:          name,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
		delay:         delay,
	}
}

// Acquire blocks until a slot is free and the spacing delay has passed.
// On cancellation no slot is held and the caller must not call Release.
func (l *ProviderRateLimiter) Acquire(ctx context.Context) error {
	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrTimeout, "waiting for %s rate limiter: %w", l.name, err)
	}
	l.active.Add(1)
	l.acquired.Add(1)

	if l.delay > 0 {
		timer := time.NewTimer(l.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			l.Release()
			return contextutils.WrapErrorf(contextutils.ErrTimeout, "spacing delay of %s rate limiter: %w", l.name, ctx.Err())
		}
	}
	return nil
}

// Release frees the slot taken by a successful Acquire and wakes the oldest waiter
func (l *ProviderRateLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Stats returns the current counters
func (l *ProviderRateLimiter) Stats() RateLimiterStats {
	return RateLimiterStats{
		Name:          l.name,
		MaxConcurrent: l.maxConcurrent,
		DelayMS:       l.delay.Milliseconds(),
		Active:        l.active.Load(),
		Waiting:       l.waiting.Load(),
		TotalAcquired: l.acquired.Load(),
	}
}
