package eventhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	hub := New(4)
	sub := hub.Subscribe()
	defer sub.Unsubscribe()

	require.Equal(t, 1, hub.SubscriberCount())

	hub.Emit(Event{Kind: KindStateChanged, State: StatePlaying})

	select {
	case ev := <-sub.Events():
		require.Equal(t, KindStateChanged, ev.Kind)
		require.Equal(t, StatePlaying, ev.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEmitFansOutToMultipleSubscribers(t *testing.T) {
	hub := New(4)
	a := hub.Subscribe()
	b := hub.Subscribe()
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	hub.Emit(Event{Kind: KindEof})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.Events():
			require.Equal(t, KindEof, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestEmitNeverBlocksOnFullSubscriber(t *testing.T) {
	hub := New(1)
	sub := hub.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Emit(Event{Kind: KindPosition, PositionMs: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a lagging subscriber")
	}

	// The lagging subscriber should still observe the most recent event.
	var last Event
	for {
		select {
		case ev := <-sub.Events():
			last = ev
			continue
		default:
		}
		break
	}
	require.Equal(t, int64(99), last.PositionMs)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := New(4)
	sub := hub.Subscribe()
	sub.Unsubscribe()

	require.Equal(t, 0, hub.SubscriberCount())

	_, ok := <-sub.Events()
	require.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestDefaultCapacityAppliedWhenZero(t *testing.T) {
	hub := New(0)
	require.Equal(t, defaultCapacity, hub.capacity)
}
