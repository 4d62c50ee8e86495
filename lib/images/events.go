package images

import (
	"context"
	"sync"
)

// EventType identifies the kind of notification.
type EventType string

const (
	EventProcessOutput    EventType = "process-output"
	EventImagesChanged    EventType = "images-changed"
	EventReadinessChanged EventType = "readiness-changed"
)

// Event is a notification for UI consumers.
//
// process-output carries Chunk and IsStderr, images-changed carries Images
// (a private copy, safe to retain) and readiness-changed carries Ready.
type Event struct {
	Type     EventType `json:"type"`
	Chunk    string    `json:"chunk,omitempty"`
	IsStderr bool      `json:"is_stderr,omitempty"`
	Images   []Image   `json:"images,omitempty"`
	Ready    bool      `json:"ready"`
}

// DefaultSubscriberBuffer is the channel capacity given to each subscriber.
const DefaultSubscriberBuffer = 64

// Broadcaster fans events out to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Broadcaster struct {
	buffer      int
	subscribers []chan Event
	mu          sync.RWMutex
	closed      bool
}

// NewBroadcaster creates a broadcaster giving each subscriber a channel with
// the given capacity.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{buffer: buffer}
}

// Publish delivers ev to every subscriber that has room for it.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The channel is closed when ctx is
// done, on Unsubscribe, or when the broadcaster is closed.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, b.buffer)
	b.subscribers = append(b.subscribers, ch)

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			b.Unsubscribe(ch)
		}()
	}

	return ch, nil
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored.
func (b *Broadcaster) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels. Later Publish calls are dropped and
// Subscribe fails with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
