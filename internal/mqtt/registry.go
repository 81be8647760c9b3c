package mqtt

import (
	"fmt"
	"sort"
	"sync"
)

// RegisteredDevice holds runtime information about a registered device.
type RegisteredDevice struct {
	LogicalID     string
	ControllerID  string
	Type          string
	CommandTopic  string // topics.subscribe from registration
	EventTopic    string // topics.publish from registration
	Capabilities  []string
	InputSignals  []string
	OutputSignals []string
}

func (d *RegisteredDevice) clone() *RegisteredDevice {
	cpy := *d
	cpy.Capabilities = append([]string{}, d.Capabilities...)
	cpy.InputSignals = append([]string{}, d.InputSignals...)
	cpy.OutputSignals = append([]string{}, d.OutputSignals...)
	return &cpy
}

// DeviceRegistry maps logical device IDs to their MQTT topics.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*RegisteredDevice
}

// NewDeviceRegistry creates a new empty device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*RegisteredDevice),
	}
}

// Register adds or updates a device in the registry.
func (r *DeviceRegistry) Register(dev *RegisteredDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.LogicalID] = dev.clone()
}

// Get returns a copy of a device, or nil if not found.
func (r *DeviceRegistry) Get(logicalID string) *RegisteredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[logicalID]; ok {
		return dev.clone()
	}
	return nil
}

// Exists returns true if the device is registered.
func (r *DeviceRegistry) Exists(logicalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[logicalID]
	return ok
}

// CommandTopic returns the command topic for a device, or "" if unknown.
func (r *DeviceRegistry) CommandTopic(logicalID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[logicalID]; ok {
		return dev.CommandTopic
	}
	return ""
}

// ValidateCommand checks that a device exists, has a command topic and
// supports the given output signal. Returns the topic to publish on.
func (r *DeviceRegistry) ValidateCommand(logicalID, signal string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[logicalID]
	if !ok {
		return "", fmt.Errorf("device not registered: %s", logicalID)
	}

	if dev.CommandTopic == "" {
		return "", fmt.Errorf("device %s has no command topic", logicalID)
	}

	if !containsString(dev.OutputSignals, signal) {
		return "", fmt.Errorf("device %s does not support output signal: %s", logicalID, signal)
	}
	return dev.CommandTopic, nil
}

// All returns copies of all registered devices sorted by logical ID.
func (r *DeviceRegistry) All() []*RegisteredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RegisteredDevice, 0, len(r.devices))
	for _, dev := range r.devices {
		result = append(result, dev.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LogicalID < result[j].LogicalID })
	return result
}

// RegisterFromPayload registers all devices from a registration payload.
func (r *DeviceRegistry) RegisterFromPayload(payload *RegistrationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range payload.Devices {
		r.devices[dev.LogicalID] = &RegisteredDevice{
			LogicalID:     dev.LogicalID,
			ControllerID:  payload.Controller.ID,
			Type:          dev.Type,
			CommandTopic:  dev.Topics.Subscribe,
			EventTopic:    dev.Topics.Publish,
			Capabilities:  append([]string{}, dev.Capabilities...),
			InputSignals:  append([]string{}, dev.Signals.Inputs...),
			OutputSignals: append([]string{}, dev.Signals.Outputs...),
		}
	}
}

// Clear removes all devices from the registry.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*RegisteredDevice)
}
