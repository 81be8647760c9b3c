package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/lights"
	"github.com/AaronLay10/AlchemyMachine/internal/mqtt"
)

type publishedMessage struct {
	Topic   string
	Payload []byte
}

// mockMQTTClient records publishes.
type mockMQTTClient struct {
	mu           sync.Mutex
	connected    bool
	published    []publishedMessage
	publishError error
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{connected: true}
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, publishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (m *mockMQTTClient) getPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage{}, m.published...)
}

func ioRegistry() *mqtt.DeviceRegistry {
	r := mqtt.NewDeviceRegistry()
	r.Register(&mqtt.RegisteredDevice{LogicalID: mqtt.DeviceDoorLock, CommandTopic: "io/door_lock/cmd", OutputSignals: []string{"lock", "unlock"}})
	r.Register(&mqtt.RegisteredDevice{LogicalID: mqtt.DeviceLatch, CommandTopic: "io/latch/cmd", OutputSignals: []string{"pulse"}})
	for _, s := range lights.AllStrips {
		r.Register(&mqtt.RegisteredDevice{
			LogicalID:     mqtt.StripDevice(int(s)),
			CommandTopic:  "io/" + mqtt.StripDevice(int(s)) + "/cmd",
			OutputSignals: []string{"solid", "flash", "chase"},
		})
	}
	return r
}

func decode(t *testing.T, b []byte) Command {
	t.Helper()
	var cmd Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		t.Fatalf("invalid command JSON: %v", err)
	}
	return cmd
}

func TestCommandPublisher_Actuators(t *testing.T) {
	client := newMockMQTTClient()
	p := NewCommandPublisher(client, ioRegistry(), Options{LatchPulse: 10 * time.Millisecond})

	p.PulseLatch()
	p.SetDoorLock(false)
	p.SetDoorLock(true)
	p.flush()

	msgs := client.getPublished()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(msgs))
	}

	if msgs[0].Topic != "io/latch/cmd" {
		t.Errorf("unexpected latch topic %q", msgs[0].Topic)
	}
	latch := decode(t, msgs[0].Payload)
	if latch.Signal != "pulse" || latch.Payload["width_ms"] != float64(10) {
		t.Errorf("unexpected latch command %+v", latch)
	}

	if cmd := decode(t, msgs[1].Payload); cmd.Signal != "unlock" || msgs[1].Topic != "io/door_lock/cmd" {
		t.Errorf("expected unlock, got %+v on %s", cmd, msgs[1].Topic)
	}
	if cmd := decode(t, msgs[2].Payload); cmd.Signal != "lock" {
		t.Errorf("expected lock, got %+v", cmd)
	}
}

func TestCommandPublisher_Lights(t *testing.T) {
	client := newMockMQTTClient()
	p := NewCommandPublisher(client, ioRegistry(), Options{
		StripLengths: map[lights.Strip]int{lights.StripCrystal: 22},
	})

	p.Flash(lights.StripBeakers, lights.Red, 80*time.Millisecond)
	p.Chase(lights.StripCrystal, lights.Purple, lights.Forward, true)
	p.Solid(lights.StripPipeBlue, lights.Black)
	p.AdvanceFrame(lights.StripPipeBlue)
	p.flush()

	msgs := client.getPublished()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(msgs))
	}

	flash := decode(t, msgs[0].Payload)
	if msgs[0].Topic != "io/strip_1/cmd" || flash.Signal != "flash" ||
		flash.Payload["color"] != "#FF0000" || flash.Payload["period_ms"] != float64(80) {
		t.Errorf("unexpected flash %+v on %s", flash, msgs[0].Topic)
	}

	chase := decode(t, msgs[1].Payload)
	if chase.Payload["direction"] != "forward" || chase.Payload["accelerating"] != true || chase.Payload["length"] != float64(22) {
		t.Errorf("unexpected chase %+v", chase)
	}

	if solid := decode(t, msgs[2].Payload); solid.Payload["color"] != "#000000" {
		t.Errorf("unexpected solid %+v", solid)
	}
}

func TestCommandPublisher_SendErrors(t *testing.T) {
	tests := []struct {
		name     string
		registry *mqtt.DeviceRegistry
		setup    func(*mockMQTTClient)
		device   string
		signal   string
	}{
		{"no registry", nil, nil, mqtt.DeviceLatch, "pulse"},
		{"unregistered device", mqtt.NewDeviceRegistry(), nil, mqtt.DeviceLatch, "pulse"},
		{"unsupported signal", ioRegistry(), nil, mqtt.DeviceLatch, "open"},
		{"disconnected", ioRegistry(), func(m *mockMQTTClient) { m.connected = false }, mqtt.DeviceLatch, "pulse"},
		{"publish failure", ioRegistry(), func(m *mockMQTTClient) { m.publishError = errors.New("boom") }, mqtt.DeviceLatch, "pulse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockMQTTClient()
			if tt.setup != nil {
				tt.setup(client)
			}
			p := NewCommandPublisher(client, tt.registry, Options{})
			if err := p.send(tt.device, Command{Signal: tt.signal}); err == nil {
				t.Error("expected error")
			}
			if len(client.getPublished()) != 0 {
				t.Error("nothing should be published")
			}
		})
	}
}

func TestCommandPublisher_QueueFull(t *testing.T) {
	client := newMockMQTTClient()
	p := NewCommandPublisher(client, ioRegistry(), Options{QueueSize: 1})

	p.SetDoorLock(true)
	p.SetDoorLock(false) // dropped
	p.flush()

	if got := len(client.getPublished()); got != 1 {
		t.Errorf("expected 1 publish, got %d", got)
	}
}

func TestCommandPublisher_Run(t *testing.T) {
	client := newMockMQTTClient()
	p := NewCommandPublisher(client, ioRegistry(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	p.PulseLatch()

	deadline := time.After(time.Second)
	for len(client.getPublished()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for publish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
