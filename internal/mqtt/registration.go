package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
)

// Logical IDs of the devices the Alchemy Machine IO controller exposes.
const (
	DeviceBeam     = "beam"
	DeviceDoor     = "door"
	DeviceDoorLock = "door_lock"
	DeviceLatch    = "latch"
)

// ReaderDevice returns the logical ID of tag reader i.
func ReaderDevice(i int) string {
	return "reader_" + strconv.Itoa(i)
}

// StripDevice returns the logical ID of light strip n.
func StripDevice(n int) string {
	return "strip_" + strconv.Itoa(n)
}

// RegistrationPayload represents a v1 controller registration message.
type RegistrationPayload struct {
	Version    int                  `json:"version"`
	Controller ControllerInfo       `json:"controller"`
	Devices    []DeviceRegistration `json:"devices"`
}

// ControllerInfo contains controller metadata.
type ControllerInfo struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Firmware     string `json:"firmware"`
	UptimeMS     int64  `json:"uptime_ms"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// DeviceRegistration describes a single device provided by the controller.
type DeviceRegistration struct {
	LogicalID    string        `json:"logical_id"`
	Type         string        `json:"type"`
	Capabilities []string      `json:"capabilities"`
	Signals      DeviceSignals `json:"signals"`
	Topics       DeviceTopics  `json:"topics"`
}

// DeviceSignals defines input/output signals for a device.
type DeviceSignals struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// DeviceTopics defines MQTT topics for device communication.
type DeviceTopics struct {
	Publish   string `json:"publish"`
	Subscribe string `json:"subscribe"`
}

// ParseRegistration parses a registration payload from JSON bytes.
func ParseRegistration(data []byte) (*RegistrationPayload, error) {
	var payload RegistrationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid registration JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported registration version: %d", payload.Version)
	}

	if payload.Controller.ID == "" {
		return nil, fmt.Errorf("controller.id is required")
	}

	return &payload, nil
}

// DeviceSpec is what the prop expects a registered device to look like.
type DeviceSpec struct {
	Type         string
	Required     bool
	Capabilities []string
}

// IOControllerSpecs lists the devices the puzzle needs from its IO
// controller. Sensors, readers and locks are required; strips are
// optional because the puzzle still runs dark.
func IOControllerSpecs(readers int, strips []int) map[string]DeviceSpec {
	specs := map[string]DeviceSpec{
		DeviceBeam:     {Type: "beam_sensor", Required: true, Capabilities: []string{"broken"}},
		DeviceDoor:     {Type: "door_switch", Required: true, Capabilities: []string{"closed"}},
		DeviceDoorLock: {Type: "maglock", Required: true, Capabilities: []string{"lock"}},
		DeviceLatch:    {Type: "latch", Required: true, Capabilities: []string{"pulse"}},
	}
	for i := 0; i < readers; i++ {
		specs[ReaderDevice(i)] = DeviceSpec{Type: "rfid_reader", Required: true, Capabilities: []string{"tag"}}
	}
	for _, n := range strips {
		specs[StripDevice(n)] = DeviceSpec{Type: "led_strip", Capabilities: []string{"solid", "flash", "chase"}}
	}
	return specs
}

// ValidationResult contains validation outcome.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRegistration validates a registration payload against device specs.
func ValidateRegistration(payload *RegistrationPayload, specs map[string]DeviceSpec) *ValidationResult {
	result := &ValidationResult{Valid: true}

	registered := make(map[string]*DeviceRegistration)
	for i := range payload.Devices {
		dev := &payload.Devices[i]
		if dev.LogicalID == "" {
			result.fail("device with empty logical_id")
			continue
		}
		registered[dev.LogicalID] = dev
	}

	for logicalID, spec := range specs {
		reg, found := registered[logicalID]
		if !found {
			if spec.Required {
				result.fail(fmt.Sprintf("required device missing: %s", logicalID))
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("optional device missing: %s", logicalID))
			}
			continue
		}

		if reg.Type != spec.Type {
			result.fail(fmt.Sprintf("device %s: type mismatch (expected %s, got %s)", logicalID, spec.Type, reg.Type))
		}

		for _, c := range spec.Capabilities {
			if !containsString(reg.Capabilities, c) {
				result.fail(fmt.Sprintf("device %s: missing capability %s", logicalID, c))
			}
		}
	}

	for logicalID := range registered {
		if _, ok := specs[logicalID]; !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unrecognized device: %s", logicalID))
		}
	}

	return result
}

func (r *ValidationResult) fail(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

// RegistrationHandler wires the registration topic: a valid announcement
// is recorded by the monitor, its devices are added to the registry, and
// their event topics are subscribed. onRegistered, if set, runs last, once
// commands to the new devices can be routed.
func RegistrationHandler(m *Monitor, reg *DeviceRegistry, sub *DeviceSubscriber, onRegistered func(controllerID string)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		payload, err := ParseRegistration(msg.Payload())
		if err != nil {
			events.Emit("error", "device.error", "bad registration payload", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
			return
		}

		result := m.HandleRegistration(payload)
		if !result.Valid {
			return
		}

		reg.RegisterFromPayload(payload)
		sub.SubscribeAll()
		if onRegistered != nil {
			onRegistered(payload.Controller.ID)
		}
	}
}
