package state

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
)

const defaultListenerBuffer = 16

// StateChange is delivered to listeners after every applied action.
type StateChange struct {
	Action ActionType
	State  notes.AppState
}

// Broadcaster fans state changes out to subscribers. A subscriber whose buffer is
// full misses the message instead of stalling dispatch.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]chan StateChange
	nextID      int64
	bufferSize  int
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int64]chan StateChange),
		bufferSize:  defaultListenerBuffer,
	}
}

// Subscribe registers a listener until ctx is done or the returned cancel func runs.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan StateChange, func()) {
	stream := make(chan StateChange, b.bufferSize)

	b.mu.Lock()
	b.nextID++
	subscriberID := b.nextID
	b.subscribers[subscriberID] = stream
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, subscriberID)
			b.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return stream, cleanup
}

// Publish delivers the change to every subscriber without blocking.
func (b *Broadcaster) Publish(change StateChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stream := range b.subscribers {
		select {
		case stream <- change:
		default:
		}
	}
}

// SubscriberCount reports the number of registered listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
