package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// readinessState tracks the dependencies /ready reports on. A dependency
// marked optional is reported but never fails readiness.
type readinessState struct {
	mu                sync.RWMutex
	controllerReady   bool
	mqttConnected     bool
	mqttOptional      bool
	ioConnected       bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{
	// The prop runs on local sensors if the broker is away.
	mqttOptional:     true,
	postgresOptional: true,
}

// Check is one dependency in a readiness response.
type Check struct {
	Status   string `json:"status"` // ok, not_ready, unavailable
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the /ready body.
type ReadinessResponse struct {
	Ready       bool             `json:"ready"`
	Checks      map[string]Check `json:"checks"`
	NotReadyMsg string           `json:"message,omitempty"`
}

// SetControllerReady marks the puzzle control loop as running.
func SetControllerReady(ready bool) {
	readiness.mu.Lock()
	readiness.controllerReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetIOState records whether the IO controller is heartbeating.
func SetIOState(connected bool) {
	readiness.mu.Lock()
	readiness.ioConnected = connected
	readiness.mu.Unlock()
}

// SetPostgresState records event store connectivity.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

// Connectivity is the dependency section of /status.
type Connectivity struct {
	MQTT         bool `json:"mqtt"`
	IOController bool `json:"io_controller"`
	Postgres     bool `json:"postgres"`
}

func connectivity() Connectivity {
	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	return Connectivity{
		MQTT:         readiness.mqttConnected,
		IOController: readiness.ioConnected,
		Postgres:     readiness.postgresConnected,
	}
}

func check(ok, optional bool) Check {
	switch {
	case ok:
		return Check{Status: "ok", Optional: optional}
	case optional:
		return Check{Status: "unavailable", Optional: true}
	default:
		return Check{Status: "not_ready"}
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	s := *readiness
	readiness.mu.RUnlock()

	resp := ReadinessResponse{
		Ready: true,
		Checks: map[string]Check{
			"controller": check(s.controllerReady, false),
			"mqtt":       check(s.mqttConnected, s.mqttOptional),
			// The IO controller is only reachable through the broker.
			"io_controller": check(s.ioConnected, s.mqttOptional),
			"postgres":      check(s.postgresConnected, s.postgresOptional),
		},
	}

	var reasons []string
	for _, name := range []string{"controller", "mqtt", "io_controller", "postgres"} {
		if resp.Checks[name].Status == "not_ready" {
			resp.Ready = false
			reasons = append(reasons, name+" not ready")
		}
	}
	resp.NotReadyMsg = strings.Join(reasons, "; ")

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
