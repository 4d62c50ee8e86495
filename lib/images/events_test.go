package images

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	ctx := context.Background()

	ch1, err := b.Subscribe(ctx)
	require.NoError(t, err)
	ch2, err := b.Subscribe(ctx)
	require.NoError(t, err)

	b.Publish(Event{Type: EventReadinessChanged, Ready: true})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventReadinessChanged, ev.Type)
			assert.True(t, ev.Ready)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(1)
	ch, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	b.Publish(Event{Type: EventProcessOutput, Chunk: "one"})
	b.Publish(Event{Type: EventProcessOutput, Chunk: "two"})

	ev := <-ch
	assert.Equal(t, "one", ev.Chunk)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster(1)
	ch, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(ch)
	require.Zero(t, b.SubscriberCount())

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")

	// second unsubscribe is a no-op
	b.Unsubscribe(ch)
}

func TestBroadcasterUnsubscribesOnContextDone(t *testing.T) {
	b := NewBroadcaster(1)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(1)
	ch, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	b.Close()
	_, ok := <-ch
	require.False(t, ok)

	b.Publish(Event{Type: EventImagesChanged})
	b.Close()

	_, err = b.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
