package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/lights"
	"github.com/AaronLay10/AlchemyMachine/internal/mqtt"
)

// Publisher is the part of mqtt.Client the command publisher needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// Command is the JSON body sent to a device's command topic.
type Command struct {
	Signal  string                 `json:"signal"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type queued struct {
	deviceID string
	cmd      Command
}

// CommandPublisher turns actuator and light requests into device commands
// on the IO controller. Requests are queued in order and published by Run,
// so the control loop never waits on the broker.
type CommandPublisher struct {
	client       Publisher
	registry     *mqtt.DeviceRegistry
	latchPulse   time.Duration
	stripLengths map[lights.Strip]int
	queue        chan queued
}

// Options configures a CommandPublisher.
type Options struct {
	LatchPulse   time.Duration
	StripLengths map[lights.Strip]int
	QueueSize    int
}

// NewCommandPublisher creates a publisher resolving topics through registry.
func NewCommandPublisher(client Publisher, registry *mqtt.DeviceRegistry, opts Options) *CommandPublisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.LatchPulse <= 0 {
		opts.LatchPulse = 10 * time.Millisecond
	}
	return &CommandPublisher{
		client:       client,
		registry:     registry,
		latchPulse:   opts.LatchPulse,
		stripLengths: opts.StripLengths,
		queue:        make(chan queued, opts.QueueSize),
	}
}

// SetDoorLock implements puzzle.Actuators.
func (p *CommandPublisher) SetDoorLock(locked bool) {
	signal := "unlock"
	if locked {
		signal = "lock"
	}
	p.enqueue(mqtt.DeviceDoorLock, Command{Signal: signal})
}

// PulseLatch implements puzzle.Actuators. The IO controller times the
// pulse; we only send its width.
func (p *CommandPublisher) PulseLatch() {
	p.enqueue(mqtt.DeviceLatch, Command{
		Signal:  "pulse",
		Payload: map[string]interface{}{"width_ms": p.latchPulse.Milliseconds()},
	})
}

// Solid implements lights.Driver.
func (p *CommandPublisher) Solid(strip lights.Strip, c lights.Color) {
	p.enqueue(mqtt.StripDevice(int(strip)), Command{
		Signal:  "solid",
		Payload: map[string]interface{}{"color": c.Hex()},
	})
}

// Flash implements lights.Driver.
func (p *CommandPublisher) Flash(strip lights.Strip, c lights.Color, period time.Duration) {
	p.enqueue(mqtt.StripDevice(int(strip)), Command{
		Signal: "flash",
		Payload: map[string]interface{}{
			"color":     c.Hex(),
			"period_ms": period.Milliseconds(),
		},
	})
}

// Chase implements lights.Driver.
func (p *CommandPublisher) Chase(strip lights.Strip, c lights.Color, dir lights.Direction, accelerating bool) {
	payload := map[string]interface{}{
		"color":        c.Hex(),
		"direction":    string(dir),
		"accelerating": accelerating,
	}
	if n, ok := p.stripLengths[strip]; ok && n > 0 {
		payload["length"] = n
	}
	p.enqueue(mqtt.StripDevice(int(strip)), Command{Signal: "chase", Payload: payload})
}

// AdvanceFrame implements lights.Driver. The IO controller renders its own
// frames, so there is nothing to send.
func (p *CommandPublisher) AdvanceFrame(lights.Strip) {}

func (p *CommandPublisher) enqueue(deviceID string, cmd Command) {
	select {
	case p.queue <- queued{deviceID: deviceID, cmd: cmd}:
	default:
		p.emitDeviceError(deviceID, cmd.Signal, "", "command queue full")
	}
}

// Run publishes queued commands until ctx is cancelled.
func (p *CommandPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-p.queue:
			p.send(q.deviceID, q.cmd)
		}
	}
}

// flush publishes everything queued so far on the calling goroutine.
func (p *CommandPublisher) flush() {
	for {
		select {
		case q := <-p.queue:
			p.send(q.deviceID, q.cmd)
		default:
			return
		}
	}
}

// send validates the device and publishes one command.
func (p *CommandPublisher) send(deviceID string, cmd Command) error {
	if p.registry == nil {
		return p.emitDeviceError(deviceID, cmd.Signal, "", "device registry not available")
	}

	topic, err := p.registry.ValidateCommand(deviceID, cmd.Signal)
	if err != nil {
		return p.emitDeviceError(deviceID, cmd.Signal, "", err.Error())
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return p.emitDeviceError(deviceID, cmd.Signal, topic, fmt.Sprintf("failed to marshal payload: %v", err))
	}

	if p.client == nil || !p.client.IsConnected() {
		return p.emitDeviceError(deviceID, cmd.Signal, topic, "MQTT client not connected")
	}

	if err := p.client.Publish(topic, payload); err != nil {
		return p.emitDeviceError(deviceID, cmd.Signal, topic, fmt.Sprintf("MQTT publish failed: %v", err))
	}
	return nil
}

// emitDeviceError emits a device.error event with full context and returns an error.
func (p *CommandPublisher) emitDeviceError(deviceID, signal, topic, msg string) error {
	fields := map[string]interface{}{
		"device_id": deviceID,
		"error":     msg,
	}
	if signal != "" {
		fields["signal"] = signal
	}
	if topic != "" {
		fields["topic"] = topic
	}
	events.Emit("error", "device.error", msg, fields)
	return fmt.Errorf("%s", msg)
}
