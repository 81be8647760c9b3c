package puzzle

import "time"

// TagReader answers "did reader i see a tag, and which one" once per cycle.
// Implementations must fail soft: any read error is reported as Absent.
type TagReader interface {
	Poll(reader int) Observation
}

// Sensors exposes the two binary inputs sampled at the top of each cycle.
type Sensors interface {
	// BeamBroken reports whether the laser path currently powers the machine.
	BeamBroken() bool
	// DoorClosed reports whether the beaker door switch is closed.
	DoorClosed() bool
}

// Actuators drives the two locks. Calls are fire and forget.
type Actuators interface {
	// SetDoorLock engages (true) or releases (false) the beaker door lock.
	SetDoorLock(locked bool)
	// PulseLatch momentarily energizes the crystal compartment latch.
	PulseLatch()
}

// CommandSource delivers at most one pending remote command per poll.
type CommandSource interface {
	Poll() (Command, bool)
}

// Clock abstracts time so tests can drive the controller deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// noCommands is used when the controller runs without a remote channel.
type noCommands struct{}

func (noCommands) Poll() (Command, bool) { return "", false }
