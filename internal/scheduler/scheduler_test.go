package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartIsIdempotent(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	tick := func(context.Context, time.Time) error { return nil }

	require.NoError(t, s.Start(context.Background(), tick))
	assert.ErrorIs(t, s.Start(context.Background(), tick), ErrAlreadyRunning)

	s.Stop()
	require.NoError(t, s.Start(context.Background(), tick), "restart after stop")
	s.Stop()
	s.Stop()
}

func TestTickErrorsDoNotHaltLoop(t *testing.T) {
	var calls atomic.Int32
	s := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background(), func(context.Context, time.Time) error {
		calls.Add(1)
		return errors.New("providers down")
	}))
	defer s.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	started := make(chan struct{})
	var (
		finished  atomic.Bool
		tickCtxOK atomic.Bool
		once      sync.Once
	)
	s := New(Options{Interval: time.Hour, RunImmediately: true}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background(), func(ctx context.Context, _ time.Time) error {
		once.Do(func() { close(started) })
		time.Sleep(100 * time.Millisecond)
		// 停止信号不应取消正在执行的周期
		tickCtxOK.Store(ctx.Err() == nil)
		finished.Store(true)
		return nil
	}))

	<-started
	s.Stop()
	assert.True(t, finished.Load(), "Stop returned before the tick finished")
	assert.True(t, tickCtxOK.Load(), "tick context was cancelled by Stop")
}

func TestCycleTimeoutBoundsTick(t *testing.T) {
	deadlineSeen := make(chan bool, 1)
	s := New(Options{Interval: time.Hour, RunImmediately: true, CycleTimeout: 50 * time.Millisecond}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background(), func(ctx context.Context, _ time.Time) error {
		_, ok := ctx.Deadline()
		deadlineSeen <- ok
		return nil
	}))
	defer s.Stop()

	select {
	case ok := <-deadlineSeen:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("tick never ran")
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
		calls   atomic.Int32
	)
	s := New(Options{Interval: 5 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background(), func(context.Context, time.Time) error {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(15 * time.Millisecond)
		active.Add(-1)
		calls.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, overlap.Load())
}

func TestRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, func(context.Context, time.Time) error { return nil }) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAlignedBucket(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 3, 1, 12, 3, 17, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), s.bucketStart(now))
}
