package mqtt

import (
	"encoding/json"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
)

// Subscriber is the part of Client the device subscriber needs.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// InputSink receives decoded device input from the IO controller.
type InputSink interface {
	HandleInput(logicalID string, payload map[string]interface{})
}

// DeviceSubscriber manages subscriptions to device event topics and hands
// every input message to the sink. Subscribing is idempotent.
type DeviceSubscriber struct {
	mu         sync.RWMutex
	client     Subscriber
	registry   *DeviceRegistry
	sink       InputSink
	subscribed map[string]bool // topic -> subscribed
}

// NewDeviceSubscriber creates a new device subscriber.
func NewDeviceSubscriber(client Subscriber, registry *DeviceRegistry, sink InputSink) *DeviceSubscriber {
	return &DeviceSubscriber{
		client:     client,
		registry:   registry,
		sink:       sink,
		subscribed: make(map[string]bool),
	}
}

// SubscribeDevice subscribes to a device's event topic if not already subscribed.
func (s *DeviceSubscriber) SubscribeDevice(dev *RegisteredDevice) error {
	if dev.EventTopic == "" {
		return nil // output-only device
	}

	s.mu.Lock()
	if s.subscribed[dev.EventTopic] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	handler := s.createHandler(dev.ControllerID, dev.LogicalID)
	if err := s.client.Subscribe(dev.EventTopic, handler); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[dev.EventTopic] = true
	s.mu.Unlock()

	return nil
}

// SubscribeAll subscribes to all devices in the registry.
func (s *DeviceSubscriber) SubscribeAll() {
	for _, dev := range s.registry.All() {
		if err := s.SubscribeDevice(dev); err != nil {
			events.Emit("error", "device.error", "failed to subscribe to device events", map[string]interface{}{
				"logical_id": dev.LogicalID,
				"topic":      dev.EventTopic,
				"error":      err.Error(),
			})
		}
	}
}

func (s *DeviceSubscriber) createHandler(controllerID, logicalID string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			events.Emit("warning", "device.error", "non-JSON device input", map[string]interface{}{
				"controller_id": controllerID,
				"logical_id":    logicalID,
				"payload":       string(msg.Payload()),
			})
			return
		}

		// Readers report every poll; keep these at debug.
		events.Emit("debug", "device.input", "", map[string]interface{}{
			"controller_id": controllerID,
			"logical_id":    logicalID,
			"payload":       payload,
		})

		if s.sink != nil {
			s.sink.HandleInput(logicalID, payload)
		}
	}
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *DeviceSubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns a list of all subscribed topics.
func (s *DeviceSubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	return topics
}

// ClearSubscriptions clears the subscription tracking.
// Client restores its own subscriptions on reconnect; this is for a clean
// session where the registry is rebuilt from scratch.
func (s *DeviceSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
