package progress

import (
	"testing"
	"time"

	"github.com/flowclip/flowclip-api/store"
	"github.com/stretchr/testify/require"
)

func snapshot(status store.TaskStatus, progress float64) store.ProcessingStatus {
	return store.ProcessingStatus{OverallStatus: status, OverallProgress: progress}
}

func drain(ch <-chan Frame) []Frame {
	var frames []Frame
	for {
		select {
		case f := <-ch:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestImmediateOnStatusChange(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 5), true)
	require.Len(t, drain(ch), 1)
}

func TestImmediateOnIntegerBoundary(t *testing.T) {
	b := NewBus()
	now := time.Now()
	b.now = func() time.Time { return now }
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 37.2), true)
	require.Len(t, drain(ch), 1)

	// same integer percent within the window: coalesced
	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 37.8), false)
	require.Empty(t, drain(ch))

	// crossing 38% goes out immediately
	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 38.1), false)
	require.Len(t, drain(ch), 1)
}

func TestCoalescingKeepsOnlyLatest(t *testing.T) {
	b := NewBus()
	now := time.Now()
	b.now = func() time.Time { return now }
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 37.0), true)
	require.Len(t, drain(ch), 1)

	// burst of same-percent updates inside the window: at most one frame and
	// only the latest pending survives
	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 37.1), false)
	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 37.2), false)
	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 37.3), false)
	require.Empty(t, drain(ch))

	b.flush(1, 10)
	frames := drain(ch)
	require.Len(t, frames, 1)
	require.Equal(t, 37.3, frames[0].Status.OverallProgress)
}

func TestImmediateOnCompletion(t *testing.T) {
	b := NewBus()
	now := time.Now()
	b.now = func() time.Time { return now }
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 99.0), true)
	drain(ch)
	b.NotifyProgress(1, 10, snapshot(store.TaskSuccess, 99.9), false)
	frames := drain(ch)
	require.Len(t, frames, 1)
	require.Equal(t, store.TaskSuccess, frames[0].Status.OverallStatus)
}

func TestCancelledSubscriberGetsNothing(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()

	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 10), true)
	require.Empty(t, drain(ch))
}

func TestLanesAreIndependentPerUser(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe(1)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(2)
	defer cancel2()

	b.NotifyProgress(1, 10, snapshot(store.TaskRunning, 10), true)
	require.Len(t, drain(ch1), 1)
	require.Empty(t, drain(ch2))
}
