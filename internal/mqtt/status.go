package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
)

// ConnectedMessage is what the prop announces to the game host on connect.
const ConnectedMessage = "Alchemy Machine Connected!"

// Publisher is the part of Client used for outbound messages.
type Publisher interface {
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// StateReport is the retained state message on <host topic>/state.
type StateReport struct {
	State  puzzle.State `json:"state"`
	From   puzzle.State `json:"from,omitempty"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// HostReporter publishes prop status to the game host. It implements
// puzzle.Observer; publishes are queued so the control loop never waits
// on the broker.
type HostReporter struct {
	pub   Publisher
	topic string
	queue chan outbound
}

// NewHostReporter creates a reporter publishing under topic.
func NewHostReporter(pub Publisher, topic string) *HostReporter {
	return &HostReporter{
		pub:   pub,
		topic: topic,
		queue: make(chan outbound, 32),
	}
}

// Announce queues the connected banner. Call from the client's
// on-connect hook so it is repeated after every reconnect.
func (r *HostReporter) Announce() {
	r.enqueue(outbound{topic: r.topic, payload: []byte(ConnectedMessage)})
}

// Transition implements puzzle.Observer.
func (r *HostReporter) Transition(from, to puzzle.State, reason string) {
	b, err := json.Marshal(StateReport{State: to, From: from, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return
	}
	r.enqueue(outbound{topic: r.topic + "/state", payload: b, retained: true})
}

// CycleCompleted implements puzzle.Observer.
func (r *HostReporter) CycleCompleted(time.Duration) {}

func (r *HostReporter) enqueue(m outbound) {
	select {
	case r.queue <- m:
	default:
		events.Emit("warning", "system.error", "host status queue full, dropping message", map[string]interface{}{
			"topic": m.topic,
		})
	}
}

// Run drains the queue until ctx is cancelled.
func (r *HostReporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.queue:
			var err error
			if m.retained {
				err = r.pub.PublishRetained(m.topic, m.payload)
			} else {
				err = r.pub.Publish(m.topic, m.payload)
			}
			if err != nil && !errors.Is(err, ErrNotConnected) {
				events.Emit("warning", "system.error", "host status publish failed", map[string]interface{}{
					"topic": m.topic,
					"error": err.Error(),
				})
			}
		}
	}
}
