package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contextutils "commentaryapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRateLimiter_Ceiling(t *testing.T) {
	limiter := NewProviderRateLimiter("claude", 2, 0)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		if err := limiter.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	assert.Eventually(t, func() bool { return limiter.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("third caller became active while two holders were active")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int64(2), limiter.Stats().Active)

	limiter.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third caller did not proceed after a release")
	}
	assert.Equal(t, int64(2), limiter.Stats().Active)
	assert.Equal(t, int64(3), limiter.Stats().TotalAcquired)
}

func TestProviderRateLimiter_NeverExceedsMax(t *testing.T) {
	limiter := NewProviderRateLimiter("openai", 3, 0)
	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, limiter.Acquire(context.Background())) {
				return
			}
			mu.Lock()
			current++
			peak = max(peak, current)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			limiter.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 3)
	assert.Equal(t, int64(0), limiter.Stats().Active)
}

func TestProviderRateLimiter_FIFO(t *testing.T) {
	limiter := NewProviderRateLimiter("gemini", 1, 0)
	require.NoError(t, limiter.Acquire(context.Background()))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			limiter.Release()
		}()
		// queue the waiters one by one so their arrival order is known
		require.Eventually(t, func() bool { return limiter.Stats().Waiting == int64(i) }, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	limiter.Release()
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestProviderRateLimiter_Delay(t *testing.T) {
	limiter := NewProviderRateLimiter("deepseek", 1, 30*time.Millisecond)
	start := time.Now()
	require.NoError(t, limiter.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	limiter.Release()
	assert.Equal(t, int64(30), limiter.Stats().DelayMS)
}

func TestProviderRateLimiter_CancelledWhileWaiting(t *testing.T) {
	limiter := NewProviderRateLimiter("claude", 1, 0)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contextutils.ErrTimeout))
	assert.Equal(t, int64(1), limiter.Stats().Active)
	assert.Equal(t, int64(0), limiter.Stats().Waiting)
}

func TestProviderRateLimiter_CancelledDuringDelayReleases(t *testing.T) {
	limiter := NewProviderRateLimiter("claude", 1, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(0), limiter.Stats().Active)

	// the slot is free again
	require.True(t, limiter.sem.TryAcquire(1))
	limiter.sem.Release(1)
}

func TestProviderRateLimiter_MinimumConcurrency(t *testing.T) {
	limiter := NewProviderRateLimiter("x", 0, -time.Second)
	stats := limiter.Stats()
	assert.Equal(t, 1, stats.MaxConcurrent)
	assert.Equal(t, int64(0), stats.DelayMS)
}
