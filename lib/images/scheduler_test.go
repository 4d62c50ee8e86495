package images

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 5*time.Second, b.Delay(0))
	assert.Equal(t, 5500*time.Millisecond, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(10))
	assert.Equal(t, 505*time.Second, b.Delay(1000), "uncapped by default")

	b.Max = 30 * time.Second
	assert.Equal(t, 6*time.Second, b.Delay(2))
	assert.Equal(t, 30*time.Second, b.Delay(1000))
}

func newCountingScheduler() (*Scheduler, *atomic.Int32) {
	var calls atomic.Int32
	return NewScheduler(func() { calls.Add(1) }), &calls
}

func TestSchedulerStopWhileIdleIsNoop(t *testing.T) {
	s, calls := newCountingScheduler()

	s.Stop()
	s.Stop()

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Pending())
	assert.Zero(t, calls.Load())
}

func TestSchedulerStartRefreshesImmediately(t *testing.T) {
	s, calls := newCountingScheduler()

	s.Start()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateRunning, s.State())
	assert.False(t, s.StopRequested())
}

func TestSchedulerCompleteArmsNextRefresh(t *testing.T) {
	s, calls := newCountingScheduler()
	s.Start()

	require.True(t, s.Complete(20*time.Millisecond))
	assert.Equal(t, StateScheduledWait, s.State())
	assert.True(t, s.Pending())

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, s.State())
	assert.False(t, s.Pending())
}

func TestSchedulerStopCancelsPendingTimer(t *testing.T) {
	s, calls := newCountingScheduler()
	s.Start()
	require.True(t, s.Complete(30*time.Millisecond))

	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Pending())

	require.Never(t, func() bool { return calls.Load() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestSchedulerStopDoesNotCancelRunningRefresh(t *testing.T) {
	s, _ := newCountingScheduler()
	s.Start()

	s.Stop()
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, s.StopRequested())

	assert.False(t, s.Complete(time.Millisecond))
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Pending())
}

func TestSchedulerCompleteBeforeStartDoesNotArm(t *testing.T) {
	s, calls := newCountingScheduler()

	assert.False(t, s.Complete(time.Millisecond))
	assert.False(t, s.Pending())
	assert.Zero(t, calls.Load())
}

func TestSchedulerStartClearsPendingTimer(t *testing.T) {
	s, calls := newCountingScheduler()
	s.Start()
	require.True(t, s.Complete(time.Hour))

	s.Start()
	assert.False(t, s.Pending())
	assert.Equal(t, int32(2), calls.Load())
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	s, calls := newCountingScheduler()
	s.Start()
	s.Stop()
	s.Complete(time.Millisecond)

	s.Start()
	require.True(t, s.Complete(10*time.Millisecond))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerCompleteReplacesTimer(t *testing.T) {
	s, calls := newCountingScheduler()
	s.Start()

	require.True(t, s.Complete(time.Hour))
	require.True(t, s.Complete(10*time.Millisecond))

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return calls.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}
