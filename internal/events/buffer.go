package events

import "sync"

// RingBuffer keeps the most recent events for /events and WebSocket replay.
type RingBuffer struct {
	mu    sync.RWMutex
	slots []Event
	next  int // slot the next event is written to
	count int // occupied slots, at most len(slots)
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{slots: make([]Event, size)}
}

// Add stores e, overwriting the oldest event once the buffer is full.
func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.slots[rb.next] = e
	rb.next = (rb.next + 1) % len(rb.slots)
	if rb.count < len(rb.slots) {
		rb.count++
	}
}

// Snapshot returns every buffered event, oldest first.
func (rb *RingBuffer) Snapshot() []Event {
	return rb.Last(0)
}

// Last returns the newest n events, oldest first. n <= 0 or n larger than
// the buffer returns everything.
func (rb *RingBuffer) Last(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	out := make([]Event, n)
	start := rb.next - n
	if start < 0 {
		start += len(rb.slots)
	}
	for i := range out {
		out[i] = rb.slots[(start+i)%len(rb.slots)]
	}
	return out
}

// Len reports how many events are buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear drops every buffered event.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	clear(rb.slots)
	rb.next = 0
	rb.count = 0
}
