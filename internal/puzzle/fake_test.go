package puzzle

import (
	"testing"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/lights"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeReaders struct{ obs []Observation }

func (r *fakeReaders) Poll(i int) Observation {
	if i < len(r.obs) {
		return r.obs[i]
	}
	return Absent
}

func (r *fakeReaders) show(ids ...TagID) {
	r.obs = make([]Observation, len(ids))
	for i, id := range ids {
		if !id.IsAbsent() {
			r.obs[i] = Observation{Present: true, ID: id}
		}
	}
}

type fakeSensors struct{ beam, door bool }

func (s *fakeSensors) BeamBroken() bool { return s.beam }
func (s *fakeSensors) DoorClosed() bool { return s.door }

type fakeActuators struct {
	locked    bool
	lockCalls int
	pulses    int
}

func (a *fakeActuators) SetDoorLock(locked bool) {
	a.locked = locked
	a.lockCalls++
}

func (a *fakeActuators) PulseLatch() { a.pulses++ }

// lightCall is the last request the driver received for a strip.
type lightCall struct {
	kind  lights.Kind
	color lights.Color
}

type fakeLights struct {
	last     map[lights.Strip]lightCall
	calls    int
	advanced map[lights.Strip]int
}

func newFakeLights() *fakeLights {
	return &fakeLights{
		last:     make(map[lights.Strip]lightCall),
		advanced: make(map[lights.Strip]int),
	}
}

func (l *fakeLights) Solid(s lights.Strip, c lights.Color) {
	kind := lights.KindSolid
	if c == lights.Black {
		kind = lights.KindOff
	}
	l.last[s] = lightCall{kind, c}
	l.calls++
}

func (l *fakeLights) Flash(s lights.Strip, c lights.Color, _ time.Duration) {
	l.last[s] = lightCall{lights.KindFlash, c}
	l.calls++
}

func (l *fakeLights) Chase(s lights.Strip, c lights.Color, _ lights.Direction, _ bool) {
	l.last[s] = lightCall{lights.KindChase, c}
	l.calls++
}

func (l *fakeLights) AdvanceFrame(s lights.Strip) { l.advanced[s]++ }

func (l *fakeLights) allOff() bool {
	for _, s := range lights.AllStrips {
		if l.last[s].kind != lights.KindOff {
			return false
		}
	}
	return true
}

type fakeCommands struct{ pending []Command }

func (c *fakeCommands) Poll() (Command, bool) {
	if len(c.pending) == 0 {
		return "", false
	}
	cmd := c.pending[0]
	c.pending = c.pending[1:]
	return cmd, true
}

func (c *fakeCommands) send(cmd Command) { c.pending = append(c.pending, cmd) }

type recordingObserver struct {
	transitions []State
}

func (o *recordingObserver) Transition(_, to State, _ string) {
	o.transitions = append(o.transitions, to)
}
func (o *recordingObserver) CycleCompleted(time.Duration) {}

// rig is a controller wired to fakes.
type rig struct {
	c        *Controller
	clock    *fakeClock
	readers  *fakeReaders
	sensors  *fakeSensors
	act      *fakeActuators
	lights   *fakeLights
	commands *fakeCommands
	observer *recordingObserver
}

var (
	tagRed   = DefaultCorrectTags[0]
	tagBlue  = DefaultCorrectTags[1]
	tagReset = DefaultResetTag
	tagOther = MustParseTagID("0102030405060708")
)

func newRig(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)},
		readers:  &fakeReaders{},
		sensors:  &fakeSensors{},
		act:      &fakeActuators{},
		lights:   newFakeLights(),
		commands: &fakeCommands{},
		observer: &recordingObserver{},
	}

	c, err := NewController(DefaultConfig(), Ports{
		Readers:   r.readers,
		Sensors:   r.sensors,
		Actuators: r.act,
		Lights:    r.lights,
		Commands:  r.commands,
		Clock:     r.clock,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	c.SetObserver(r.observer)
	r.c = c
	return r
}

func (r *rig) step(n int) {
	for i := 0; i < n; i++ {
		r.c.Step()
	}
}

// toPowered boots and breaks the beam.
func (r *rig) toPowered(t *testing.T) {
	t.Helper()
	r.step(1)
	r.sensors.beam = true
	r.step(1)
	if got := r.c.State(); got != StatePowered {
		t.Fatalf("expected powered, got %s", got)
	}
}

// toSolved runs a full solve with the sensors.
func (r *rig) toSolved(t *testing.T) {
	t.Helper()
	r.toPowered(t)
	r.readers.show(tagRed, tagBlue)
	r.sensors.door = true
	r.step(1)
	r.clock.advance(DefaultSolveDuration)
	r.step(1)
	if got := r.c.State(); got != StateSolved {
		t.Fatalf("expected solved, got %s", got)
	}
}

// toGameOver lets the solved timeout expire.
func (r *rig) toGameOver(t *testing.T) {
	t.Helper()
	r.toSolved(t)
	r.clock.advance(DefaultSolvedTimeout + time.Millisecond)
	r.step(1)
	if got := r.c.State(); got != StateGameOver {
		t.Fatalf("expected game over, got %s", got)
	}
}
