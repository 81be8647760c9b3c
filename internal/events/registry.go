package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// puzzle
	"puzzle.state_changed": {},
	"puzzle.solving":       {},
	"puzzle.solved":        {},
	"puzzle.reset":         {},
	"puzzle.game_over":     {},

	// readers
	"reader.status":    {},
	"reader.reset_tag": {},

	// remote commands
	"command.received": {},
	"command.ignored":  {},

	// outputs
	"lights.request":       {},
	"actuator.door_lock":   {},
	"actuator.latch_pulse": {},

	// loop
	"loop.started": {},
	"loop.stopped": {},

	// operator
	"operator.solve": {},
	"operator.reset": {},

	// device
	"device.connected":    {},
	"device.disconnected": {},
	"device.input":        {},
	"device.error":        {},

	// session
	"session.started": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
