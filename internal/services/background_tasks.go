package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"commentaryapp/internal/observability"
)

// BackgroundTasks runs fire-and-forget repairs whose outcome is only logged.
// Wait lets shutdown drain them instead of losing them.
type BackgroundTasks struct {
	wg      sync.WaitGroup
	logger  *observability.Logger
	timeout time.Duration

	running   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewBackgroundTasks creates a task tracker; each task gets its own timeout
func NewBackgroundTasks(logger *observability.Logger, timeout time.Duration) *BackgroundTasks {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &BackgroundTasks{logger: logger, timeout: timeout}
}

// Go starts fn detached from the caller's cancellation but keeps its values (trace, run id)
func (b *BackgroundTasks) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	b.running.Add(1)
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer b.wg.Done()
		defer b.running.Add(-1)

		if b.timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, b.timeout)
			defer cancel()
		}

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in background task %s: %v", name, r)
				}
			}()
			err = fn(taskCtx)
		}()

		if err != nil {
			b.failed.Add(1)
			b.logger.Warn(taskCtx, "Background task failed", map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			})
			return
		}
		b.succeeded.Add(1)
		b.logger.Debug(taskCtx, "Background task finished", map[string]interface{}{"task": name})
	}()
}

// Wait blocks until every started task has finished or ctx is done
func (b *BackgroundTasks) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counts reports running, succeeded and failed task totals
func (b *BackgroundTasks) Counts() (running, succeeded, failed int64) {
	return b.running.Load(), b.succeeded.Load(), b.failed.Load()
}
