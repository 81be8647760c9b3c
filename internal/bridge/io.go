// Package bridge connects the puzzle controller's ports to the IO
// controller on the other side of the MQTT broker.
package bridge

import (
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/mqtt"
	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
)

type tagReading struct {
	obs puzzle.Observation
	at  time.Time
}

// IOState holds the latest inputs reported by the IO controller. It is
// written by MQTT callbacks and read once per cycle by the controller.
//
// Beam and door are reported on change and hold their value. Tag readers
// report every poll; a reading older than staleAfter counts as absent.
type IOState struct {
	mu         sync.RWMutex
	beam       bool
	door       bool
	tags       []tagReading
	staleAfter time.Duration
	now        func() time.Time
}

// NewIOState creates an empty state for n readers. Until the IO
// controller reports, the beam is clear, the door is open and no tag is
// present.
func NewIOState(readers int, staleAfter time.Duration) *IOState {
	return &IOState{
		tags:       make([]tagReading, readers),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// HandleInput implements mqtt.InputSink.
func (s *IOState) HandleInput(logicalID string, payload map[string]interface{}) {
	switch logicalID {
	case mqtt.DeviceBeam:
		if v, ok := payload["broken"].(bool); ok {
			s.mu.Lock()
			s.beam = v
			s.mu.Unlock()
		}
		return
	case mqtt.DeviceDoor:
		if v, ok := payload["closed"].(bool); ok {
			s.mu.Lock()
			s.door = v
			s.mu.Unlock()
		}
		return
	}

	for i := range s.tags {
		if logicalID == mqtt.ReaderDevice(i) {
			s.setTag(i, decodeTag(logicalID, payload))
			return
		}
	}
}

// decodeTag turns {"present": bool, "tag": "hex"} into an observation.
// Malformed tags are reported and read as absent.
func decodeTag(logicalID string, payload map[string]interface{}) puzzle.Observation {
	raw, _ := payload["tag"].(string)
	present, ok := payload["present"].(bool)
	if !ok {
		present = raw != ""
	}
	if !present || raw == "" {
		return puzzle.Absent
	}

	id, err := puzzle.ParseTagID(raw)
	if err != nil {
		events.Emit("warning", "device.error", "unreadable tag", map[string]interface{}{
			"logical_id": logicalID,
			"tag":        strings.TrimSpace(raw),
			"error":      err.Error(),
		})
		return puzzle.Absent
	}
	return puzzle.Observation{Present: true, ID: id}
}

func (s *IOState) setTag(i int, obs puzzle.Observation) {
	s.mu.Lock()
	s.tags[i] = tagReading{obs: obs, at: s.now()}
	s.mu.Unlock()
}

// BeamBroken implements puzzle.Sensors.
func (s *IOState) BeamBroken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.beam
}

// DoorClosed implements puzzle.Sensors.
func (s *IOState) DoorClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.door
}

// Poll implements puzzle.TagReader. Unknown readers and stale readings
// are absent.
func (s *IOState) Poll(reader int) puzzle.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if reader < 0 || reader >= len(s.tags) {
		return puzzle.Absent
	}
	r := s.tags[reader]
	if !r.obs.Present {
		return puzzle.Absent
	}
	if s.staleAfter > 0 && s.now().Sub(r.at) > s.staleAfter {
		return puzzle.Absent
	}
	return r.obs
}

// Invalidate drops every input back to its resting value. Called when
// the IO controller stops heartbeating.
func (s *IOState) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beam = false
	s.door = false
	for i := range s.tags {
		s.tags[i] = tagReading{}
	}
}
