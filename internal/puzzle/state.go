package puzzle

import "time"

// State is the lifecycle state of the Alchemy Machine.
type State string

const (
	StateInitializing State = "initializing"
	StateUnpowered    State = "unpowered"
	StatePowered      State = "powered"
	StateSolved       State = "solved"
	StateGameOver     State = "game_over"
)

// Context is the world state the controller reasons over each cycle.
// It is created once and reset in place; it is never recreated.
type Context struct {
	BeamBroken     bool
	DoorClosed     bool
	AllTagsCorrect bool

	// SolvedAt is set on entry to StateSolved and cleared by Reset.
	// It is the only input to the game-over timeout.
	SolvedAt *time.Time
}

// reset returns the context to its boot values.
func (c *Context) reset() {
	c.BeamBroken = false
	c.DoorClosed = false
	c.AllTagsCorrect = false
	c.SolvedAt = nil
}

// Command is a decoded remote command token.
type Command string

const (
	CommandSolve Command = "solve"
	CommandReset Command = "reset"
)
