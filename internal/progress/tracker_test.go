package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishFansOutInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(zap.NewNop())

	var order []string
	tracker.Subscribe(func(State) { order = append(order, "first") })
	tracker.Subscribe(func(State) { order = append(order, "second") })
	tracker.Subscribe(func(State) { order = append(order, "third") })

	tracker.Publish(State{BatchNumber: 1, Status: StatusProcessing})
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSubscribeCatchesUpWithCurrentState(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(zap.NewNop())
	tracker.Publish(State{
		BatchNumber:          3,
		Status:               StatusProcessing,
		CurrentBusinessIndex: 7,
		TotalBusinesses:      40,
	})

	var got []State
	tracker.Subscribe(func(s State) { got = append(got, s) })

	// The late subscriber sees the mid-batch state immediately.
	require.Len(t, got, 1)
	require.Equal(t, 7, got[0].CurrentBusinessIndex)
	require.Equal(t, StatusProcessing, got[0].Status)
}

func TestSubscribeBeforeFirstPublishGetsNothing(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(zap.NewNop())

	calls := 0
	tracker.Subscribe(func(State) { calls++ })
	require.Zero(t, calls)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(zap.NewNop())

	calls := 0
	cancel := tracker.Subscribe(func(State) { calls++ })

	tracker.Publish(State{Status: StatusProcessing})
	require.Equal(t, 1, calls)

	cancel()
	cancel() // second call is a no-op
	tracker.Publish(State{Status: StatusCompleted})
	require.Equal(t, 1, calls)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(zap.NewNop())

	var after []Status
	tracker.Subscribe(func(State) { panic("broken observer") })
	tracker.Subscribe(func(s State) { after = append(after, s.Status) })

	require.NotPanics(t, func() {
		tracker.Publish(State{Status: StatusProcessing})
		tracker.Publish(State{Status: StatusCompleted})
	})
	require.Equal(t, []Status{StatusProcessing, StatusCompleted}, after)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cancel := tracker.Subscribe(func(State) {})
			tracker.Publish(State{BatchNumber: n, Status: StatusProcessing})
			cancel()
		}(i)
	}
	wg.Wait()

	require.Equal(t, StatusProcessing, tracker.State().Status)
}
