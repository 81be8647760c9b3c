package puzzle

import (
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/lights"
)

// step is one timed action inside a sequence.
type step struct {
	name  string
	after time.Duration
	run   func(now time.Time)
}

// sequence runs timed steps against the controller clock. It is ticked
// once per cycle; a step fires on the first tick at or after its offset.
// While a sequence is active only its strips are animated.
type sequence struct {
	name    string
	started time.Time
	steps   []step
	next    int
	strips  []lights.Strip
}

// tick runs every step that is due and reports whether the sequence is done.
func (s *sequence) tick(now time.Time) bool {
	elapsed := now.Sub(s.started)
	for s.next < len(s.steps) && elapsed >= s.steps[s.next].after {
		st := s.steps[s.next]
		s.next++
		st.run(now)
	}
	return s.next >= len(s.steps)
}

// solveStrips are the strips animated during the solve chase.
var solveStrips = []lights.Strip{lights.StripPipeRed, lights.StripCrystal, lights.StripPipeBlue}

// newSolveSequence builds the solve procedure: a chase on the pipes and
// crystal for the configured duration, then the finale.
func (c *Controller) newSolveSequence(now time.Time, source string) *sequence {
	return &sequence{
		name:    "solve",
		started: now,
		strips:  solveStrips,
		steps: []step{
			{
				name:  "chase",
				after: 0,
				run: func(time.Time) {
					c.lights.Request(lights.StripPipeRed, lights.Chase(lights.Red, lights.Forward, true))
					c.lights.Request(lights.StripCrystal, lights.Chase(lights.Purple, lights.Forward, true))
					c.lights.Request(lights.StripPipeBlue, lights.Chase(lights.Blue, lights.Reverse, true))
				},
			},
			{
				name:  "finale",
				after: c.cfg.SolveDuration,
				run: func(at time.Time) {
					c.finishSolve(at, source)
				},
			},
		},
	}
}

// finalPatterns are the steady-state colors shown while solved.
var finalPatterns = map[lights.Strip]lights.Pattern{
	lights.StripBeakers:  lights.Solid(lights.Green),
	lights.StripPipeRed:  lights.Solid(lights.Green),
	lights.StripCrystal:  lights.Solid(lights.Purple),
	lights.StripPipeBlue: lights.Solid(lights.Green),
}

func (c *Controller) showFinalColors() {
	for _, s := range c.lights.Strips() {
		if p, ok := finalPatterns[s]; ok {
			c.lights.Request(s, p)
		}
	}
}
