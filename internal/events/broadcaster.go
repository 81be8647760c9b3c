package events

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is how many events a subscriber may fall behind before
// it starts missing them.
const subscriberBuffer = 64

// Subscriber receives every emitted event.
type Subscriber chan Event

// Broadcaster fans events out to WebSocket clients and telemetry.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	dropped     atomic.Int64
}

var broadcaster = &Broadcaster{
	subscribers: make(map[Subscriber]struct{}),
}

// Subscribe registers a new buffered subscriber.
func Subscribe() Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	broadcaster.mu.Lock()
	broadcaster.subscribers[ch] = struct{}{}
	broadcaster.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Subscribers
// already closed by CloseAllSubscribers are left alone.
func Unsubscribe(sub Subscriber) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if _, ok := broadcaster.subscribers[sub]; !ok {
		return
	}
	delete(broadcaster.subscribers, sub)
	close(sub)
}

// broadcast never blocks Emit: a subscriber with a full buffer misses e.
func broadcast(e Event) {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()

	for sub := range broadcaster.subscribers {
		select {
		case sub <- e:
		default:
			broadcaster.dropped.Add(1)
		}
	}
}

// CloseAllSubscribers removes and closes every subscriber. Used on shutdown.
func CloseAllSubscribers() {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	for sub := range broadcaster.subscribers {
		close(sub)
	}
	broadcaster.subscribers = make(map[Subscriber]struct{})
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()
	return len(broadcaster.subscribers)
}

// DroppedCount is the number of deliveries skipped because a subscriber
// was full.
func DroppedCount() int64 {
	return broadcaster.dropped.Load()
}

// RecentEvents returns the last n buffered events, replayed to new
// WebSocket clients. n <= 0 returns everything buffered.
func RecentEvents(n int) []Event {
	return buffer.Last(n)
}
