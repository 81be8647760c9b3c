package mqtt

import (
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mockSubscriber records subscriptions and lets tests deliver messages.
type mockSubscriber struct {
	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
	calls         int
	err           error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{subscriptions: make(map[string]paho.MessageHandler)}
}

func (m *mockSubscriber) Subscribe(topic string, handler paho.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockSubscriber) deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.subscriptions[topic]
	m.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
	return ok
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type published struct {
	topic    string
	payload  string
	retained bool
}

// mockPublisher records outbound messages.
type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	sent chan struct{}
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{sent: make(chan struct{}, 64)}
}

func (p *mockPublisher) Publish(topic string, payload []byte) error {
	p.record(published{topic: topic, payload: string(payload)})
	return nil
}

func (p *mockPublisher) PublishRetained(topic string, payload []byte) error {
	p.record(published{topic: topic, payload: string(payload), retained: true})
	return nil
}

func (p *mockPublisher) record(m published) {
	p.mu.Lock()
	p.msgs = append(p.msgs, m)
	p.mu.Unlock()
	p.sent <- struct{}{}
}

func (p *mockPublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published{}, p.msgs...)
}

// recordingSink collects device input.
type recordingSink struct {
	mu     sync.Mutex
	inputs map[string][]map[string]interface{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{inputs: make(map[string][]map[string]interface{})}
}

func (s *recordingSink) HandleInput(logicalID string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[logicalID] = append(s.inputs[logicalID], payload)
}

func (s *recordingSink) count(logicalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs[logicalID])
}

// ioRegistration is a complete, valid announcement from the IO controller.
const ioRegistration = `{
	"version": 1,
	"controller": {"id": "alchemy-io", "type": "esp32", "firmware": "2.1.0", "heartbeat_sec": 5},
	"devices": [
		{"logical_id": "beam", "type": "beam_sensor", "capabilities": ["broken"],
		 "signals": {"inputs": ["broken"]}, "topics": {"publish": "alchemy/io/beam"}},
		{"logical_id": "door", "type": "door_switch", "capabilities": ["closed"],
		 "signals": {"inputs": ["closed"]}, "topics": {"publish": "alchemy/io/door"}},
		{"logical_id": "reader_0", "type": "rfid_reader", "capabilities": ["tag"],
		 "signals": {"inputs": ["tag"]}, "topics": {"publish": "alchemy/io/reader_0"}},
		{"logical_id": "reader_1", "type": "rfid_reader", "capabilities": ["tag"],
		 "signals": {"inputs": ["tag"]}, "topics": {"publish": "alchemy/io/reader_1"}},
		{"logical_id": "door_lock", "type": "maglock", "capabilities": ["lock"],
		 "signals": {"outputs": ["lock", "unlock"]}, "topics": {"subscribe": "alchemy/io/door_lock/cmd"}},
		{"logical_id": "latch", "type": "latch", "capabilities": ["pulse"],
		 "signals": {"outputs": ["pulse"]}, "topics": {"subscribe": "alchemy/io/latch/cmd"}}
	]
}`
