package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"commentaryapp/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundTasks_CountsOutcomes(t *testing.T) {
	tasks := NewBackgroundTasks(observability.NewNopLogger(), time.Second)

	tasks.Go(context.Background(), "ok", func(context.Context) error { return nil })
	tasks.Go(context.Background(), "fails", func(context.Context) error { return errors.New("row locked") })
	tasks.Go(context.Background(), "panics", func(context.Context) error { panic("boom") })

	require.NoError(t, tasks.Wait(context.Background()))
	running, succeeded, failed := tasks.Counts()
	assert.Equal(t, int64(0), running)
	assert.Equal(t, int64(1), succeeded)
	assert.Equal(t, int64(2), failed)
}

func TestBackgroundTasks_SurvivesCallerCancellation(t *testing.T) {
	tasks := NewBackgroundTasks(nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	var taskErr error
	tasks.Go(ctx, "detached", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		taskErr = ctx.Err()
		return nil
	})
	cancel()

	require.NoError(t, tasks.Wait(context.Background()))
	assert.NoError(t, taskErr)
}

func TestBackgroundTasks_TaskTimeout(t *testing.T) {
	tasks := NewBackgroundTasks(nil, 10*time.Millisecond)
	tasks.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, tasks.Wait(context.Background()))
	_, _, failed := tasks.Counts()
	assert.Equal(t, int64(1), failed)
}

func TestBackgroundTasks_WaitRespectsContext(t *testing.T) {
	tasks := NewBackgroundTasks(nil, 0)
	release := make(chan struct{})
	defer close(release)
	tasks.Go(context.Background(), "blocked", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tasks.Wait(ctx), context.DeadlineExceeded)
}
