package mqtt

import (
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
)

// ControllerState tracks a registered controller's health.
type ControllerState struct {
	ControllerID string
	LastSeen     time.Time
	HeartbeatSec int
	Devices      []string // logical IDs
	Connected    bool
}

// Heartbeat is the periodic liveness message from an IO controller.
type Heartbeat struct {
	ControllerID string `json:"controller_id"`
	UptimeMS     int64  `json:"uptime_ms"`
}

// Monitor tracks controller registration and health.
type Monitor struct {
	mu          sync.RWMutex
	controllers map[string]*ControllerState
	specs       map[string]DeviceSpec
	tolerance   float64 // multiplier for heartbeat interval (e.g., 2.0 = 2x heartbeat)
	onChange    func(controllerID string, connected bool)
	now         func() time.Time
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewMonitor creates a new controller monitor.
// tolerance is the multiplier for heartbeat interval before considering disconnected.
func NewMonitor(specs map[string]DeviceSpec, tolerance float64) *Monitor {
	if tolerance <= 1.0 {
		tolerance = 2.0
	}
	return &Monitor{
		controllers: make(map[string]*ControllerState),
		specs:       specs,
		tolerance:   tolerance,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// OnChange registers a callback for controller connect/disconnect.
// It runs outside the monitor's lock.
func (m *Monitor) OnChange(fn func(controllerID string, connected bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// HandleRegistration processes a registration payload.
func (m *Monitor) HandleRegistration(payload *RegistrationPayload) *ValidationResult {
	result := ValidateRegistration(payload, m.specs)

	ctrlID := payload.Controller.ID
	if !result.Valid {
		events.Emit("error", "device.error", "registration validation failed", map[string]interface{}{
			"controller_id": ctrlID,
			"errors":        result.Errors,
		})
		return result
	}
	for _, w := range result.Warnings {
		events.Emit("warning", "device.error", w, map[string]interface{}{
			"controller_id": ctrlID,
		})
	}

	var deviceIDs []string
	for _, dev := range payload.Devices {
		deviceIDs = append(deviceIDs, dev.LogicalID)
	}

	m.mu.Lock()
	existing, known := m.controllers[ctrlID]
	isReconnect := known && !existing.Connected
	m.controllers[ctrlID] = &ControllerState{
		ControllerID: ctrlID,
		LastSeen:     m.now(),
		HeartbeatSec: payload.Controller.HeartbeatSec,
		Devices:      deviceIDs,
		Connected:    true,
	}
	notify := m.onChange
	m.mu.Unlock()

	for _, dev := range payload.Devices {
		events.Emit("info", "device.connected", "", map[string]interface{}{
			"controller_id": ctrlID,
			"logical_id":    dev.LogicalID,
			"type":          dev.Type,
			"reconnect":     isReconnect,
		})
	}
	if notify != nil {
		notify(ctrlID, true)
	}

	return result
}

// HandleHeartbeat refreshes a controller's last-seen time. Heartbeats from
// unknown controllers are ignored; they must register first. Returns true
// if the heartbeat brought a timed-out controller back.
func (m *Monitor) HandleHeartbeat(hb Heartbeat) bool {
	m.mu.Lock()
	state, ok := m.controllers[hb.ControllerID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	state.LastSeen = m.now()
	revived := !state.Connected
	state.Connected = true
	devices := append([]string{}, state.Devices...)
	notify := m.onChange
	m.mu.Unlock()

	if revived {
		for _, logicalID := range devices {
			events.Emit("info", "device.connected", "", map[string]interface{}{
				"controller_id": hb.ControllerID,
				"logical_id":    logicalID,
				"reconnect":     true,
			})
		}
		if notify != nil {
			notify(hb.ControllerID, true)
		}
	}
	return revived
}

// HeartbeatHandler returns a paho handler for the heartbeat topic.
func (m *Monitor) HeartbeatHandler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var hb Heartbeat
		if err := json.Unmarshal(msg.Payload(), &hb); err != nil || hb.ControllerID == "" {
			events.Emit("warning", "device.error", "bad heartbeat payload", map[string]interface{}{
				"topic":   msg.Topic(),
				"payload": string(msg.Payload()),
			})
			return
		}
		m.HandleHeartbeat(hb)
	}
}

// Start begins the background health check loop.
func (m *Monitor) Start(checkInterval time.Duration) {
	m.wg.Add(1)
	go m.healthCheckLoop(checkInterval)
}

// Stop stops the background health check loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) healthCheckLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Monitor) checkHealth() {
	m.mu.Lock()
	now := m.now()
	var lost []ControllerState
	for _, state := range m.controllers {
		if !state.Connected || state.HeartbeatSec <= 0 {
			continue
		}

		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			state.Connected = false
			lost = append(lost, *state)
		}
	}
	notify := m.onChange
	m.mu.Unlock()

	for _, state := range lost {
		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		for _, logicalID := range state.Devices {
			events.Emit("warning", "device.disconnected", "heartbeat timeout", map[string]interface{}{
				"controller_id": state.ControllerID,
				"logical_id":    logicalID,
				"last_seen":     state.LastSeen.Format(time.RFC3339),
				"timeout_sec":   timeout.Seconds(),
			})
		}
		if notify != nil {
			notify(state.ControllerID, false)
		}
	}
}

// GetControllerState returns a copy of a controller's state.
func (m *Monitor) GetControllerState(controllerID string) *ControllerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.controllers[controllerID]; ok {
		cpy := *state
		cpy.Devices = append([]string{}, state.Devices...)
		return &cpy
	}
	return nil
}

// ConnectedControllers returns a list of currently connected controller IDs.
func (m *Monitor) ConnectedControllers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, state := range m.controllers {
		if state.Connected {
			ids = append(ids, id)
		}
	}
	return ids
}
