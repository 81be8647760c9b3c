package puzzle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
	"github.com/AaronLay10/AlchemyMachine/internal/lights"
)

// Deployment defaults for the Alchemy Machine.
const (
	DefaultSolvedTimeout = 30 * time.Minute
	DefaultSolveDuration = 5 * time.Second
	DefaultFlashPeriod   = 80 * time.Millisecond
	DefaultCycleInterval = 50 * time.Millisecond
)

// Default tag identifiers: red beaker, blue beaker, and the reset tag.
var (
	DefaultCorrectTags = []TagID{
		MustParseTagID("3C331366080104E0"),
		MustParseTagID("043A1366080104E0"),
	}
	DefaultResetTag = MustParseTagID("24431366080104E0")
)

// Config holds the fixed per-deployment puzzle parameters.
type Config struct {
	CorrectTags   []TagID
	ResetTag      TagID
	SolvedTimeout time.Duration
	SolveDuration time.Duration
	FlashPeriod   time.Duration
}

// DefaultConfig returns the shipped deployment constants.
func DefaultConfig() Config {
	return Config{
		CorrectTags:   append([]TagID{}, DefaultCorrectTags...),
		ResetTag:      DefaultResetTag,
		SolvedTimeout: DefaultSolvedTimeout,
		SolveDuration: DefaultSolveDuration,
		FlashPeriod:   DefaultFlashPeriod,
	}
}

// Ports bundles the external collaborators the controller drives.
type Ports struct {
	Readers   TagReader
	Sensors   Sensors
	Actuators Actuators
	Lights    lights.Driver
	Commands  CommandSource // optional
	Clock     Clock         // optional, defaults to SystemClock
}

// Observer is notified of transitions and cycle timing (metrics, telemetry).
type Observer interface {
	Transition(from, to State, reason string)
	CycleCompleted(took time.Duration)
}

// Observers fans out to several observers.
type Observers []Observer

func (obs Observers) Transition(from, to State, reason string) {
	for _, o := range obs {
		o.Transition(from, to, reason)
	}
}

func (obs Observers) CycleCompleted(took time.Duration) {
	for _, o := range obs {
		o.CycleCompleted(took)
	}
}

// Snapshot is a read-only copy of controller state for the operator API.
type Snapshot struct {
	State          State          `json:"state"`
	Solving        bool           `json:"solving"`
	BeamBroken     bool           `json:"beam_broken"`
	DoorClosed     bool           `json:"door_closed"`
	AllTagsCorrect bool           `json:"all_tags_correct"`
	DoorLocked     bool           `json:"door_locked"`
	SolvedAt       *time.Time     `json:"solved_at,omitempty"`
	Readers        []ReaderStatus `json:"readers"`
	Solves         int            `json:"solves"`
	Resets         int            `json:"resets"`
	Cycles         uint64         `json:"cycles"`
}

// Controller is the puzzle state machine. All fields except the published
// snapshot are owned by the goroutine calling Step.
type Controller struct {
	cfg      Config
	matcher  *TagMatcher
	readers  TagReader
	sensors  Sensors
	act      Actuators
	lights   *lights.Bank
	commands CommandSource
	clock    Clock
	observer Observer

	state State
	ctx   Context
	seq   *sequence

	doorLocked bool
	lockKnown  bool

	// resetHeld suppresses repeated tag resets while the reset tag stays
	// on a reader; it clears once a watched cycle no longer sees it.
	resetHeld bool

	// resync is set from transport goroutines; the next Step re-sends
	// every output.
	resync atomic.Bool

	solves int
	resets int
	cycles uint64

	mu   sync.RWMutex
	snap Snapshot
}

// NewController wires a controller to its ports. The controller starts in
// StateInitializing; nothing is actuated until the first Step.
func NewController(cfg Config, ports Ports) (*Controller, error) {
	if ports.Readers == nil || ports.Sensors == nil || ports.Actuators == nil || ports.Lights == nil {
		return nil, fmt.Errorf("puzzle: readers, sensors, actuators and lights are required")
	}
	if cfg.SolvedTimeout <= 0 {
		cfg.SolvedTimeout = DefaultSolvedTimeout
	}
	if cfg.SolveDuration <= 0 {
		cfg.SolveDuration = DefaultSolveDuration
	}
	if cfg.FlashPeriod <= 0 {
		cfg.FlashPeriod = DefaultFlashPeriod
	}

	matcher, err := NewTagMatcher(cfg.CorrectTags, cfg.ResetTag)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		matcher:  matcher,
		readers:  ports.Readers,
		sensors:  ports.Sensors,
		act:      ports.Actuators,
		lights:   lights.NewBank(ports.Lights, lights.AllStrips...),
		commands: ports.Commands,
		clock:    ports.Clock,
		state:    StateInitializing,
	}
	if c.commands == nil {
		c.commands = noCommands{}
	}
	if c.clock == nil {
		c.clock = SystemClock
	}
	c.publish()
	return c, nil
}

// SetObserver installs an observer. Call before Run.
func (c *Controller) SetObserver(o Observer) {
	c.observer = o
}

// Run steps the controller every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}

	events.Emit("info", "loop.started", "", map[string]interface{}{
		"interval_ms": interval.Milliseconds(),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			events.Emit("info", "loop.stopped", "", map[string]interface{}{
				"state": string(c.State()),
			})
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			c.Step()
			if c.observer != nil {
				c.observer.CycleCompleted(time.Since(start))
			}
		}
	}
}

// Step executes exactly one control cycle.
func (c *Controller) Step() {
	c.cycles++
	defer c.publish()

	if c.resync.Swap(false) {
		c.resendOutputs()
	}

	if c.seq != nil {
		c.stepSequence()
		return
	}

	c.ctx.BeamBroken = c.sensors.BeamBroken()
	c.ctx.DoorClosed = c.sensors.DoorClosed()

	if c.state != StateInitializing && c.handleCommand() {
		c.advance()
		return
	}

	switch c.state {
	case StateInitializing:
		c.stepInitializing()
	case StateUnpowered:
		c.stepUnpowered()
	case StatePowered:
		c.stepPowered()
	case StateSolved:
		c.stepSolved()
	case StateGameOver:
		c.stepGameOver()
	default:
		// Physical locks are involved; never guess a recovery.
		panic(fmt.Sprintf("puzzle: unreachable state %q", c.state))
	}

	c.advance()
}

func (c *Controller) stepInitializing() {
	c.lights.AllOff()
	c.setDoorLock(false, true)
	c.transition(StateUnpowered, "boot")
}

func (c *Controller) stepUnpowered() {
	c.lights.AllOff()

	// The door lock can still be held from Powered.
	if c.tagReset(c.classify()) {
		return
	}
	if c.ctx.BeamBroken {
		c.transition(StatePowered, "beam")
	}
}

func (c *Controller) stepPowered() {
	if !c.ctx.BeamBroken {
		c.lights.AllOff()
		c.transition(StateUnpowered, "beam")
		return
	}

	match := c.classify()
	if c.tagReset(match) {
		return
	}

	switch {
	case !match.AllCorrect:
		c.lights.Request(lights.StripBeakers, lights.Flash(lights.Red, c.cfg.FlashPeriod))
	case c.ctx.DoorClosed:
		c.startSolve("sensors")
	default:
		c.setDoorLock(true, false)
		c.lights.Request(lights.StripBeakers, lights.Flash(lights.Green, c.cfg.FlashPeriod))
	}
}

func (c *Controller) stepSolved() {
	match := c.classify()
	if c.tagReset(match) {
		return
	}

	if c.ctx.SolvedAt == nil {
		panic("puzzle: solved without a solve timestamp")
	}
	if elapsed := c.clock.Now().Sub(*c.ctx.SolvedAt); elapsed > c.cfg.SolvedTimeout {
		c.gameOver(elapsed)
		return
	}
	c.showFinalColors()
}

func (c *Controller) stepGameOver() {
	c.lights.AllOff()
	c.setDoorLock(false, false)

	match := c.classify()
	c.tagReset(match)
}

// classify polls every reader and runs the tag matcher.
func (c *Controller) classify() MatchResult {
	obs := make([]Observation, c.matcher.Readers())
	for i := range obs {
		obs[i] = c.readers.Poll(i)
	}

	res := c.matcher.Classify(obs)
	c.ctx.AllTagsCorrect = res.AllCorrect

	if res.StatusChanged {
		events.Emit("info", "reader.status", "", map[string]interface{}{
			"readers":     c.matcher.Status(),
			"all_correct": res.AllCorrect,
		})
	}
	return res
}

// tagReset runs Reset if the reset tag was newly presented.
func (c *Controller) tagReset(res MatchResult) bool {
	if !res.ResetRequested {
		c.resetHeld = false
		return false
	}
	if c.resetHeld {
		return false
	}
	c.resetHeld = true
	events.Emit("info", "reader.reset_tag", "", map[string]interface{}{
		"state": string(c.state),
	})
	c.Reset("tag")
	return true
}

// handleCommand consumes the pending remote command, if any.
// Returns true if the command changed the puzzle.
func (c *Controller) handleCommand() bool {
	cmd, ok := c.commands.Poll()
	if !ok {
		return false
	}

	events.Emit("info", "command.received", "", map[string]interface{}{
		"command": string(cmd),
		"state":   string(c.state),
	})

	switch cmd {
	case CommandReset:
		c.Reset("remote")
		return true
	case CommandSolve:
		switch c.state {
		case StatePowered, StateSolved, StateGameOver:
			c.startSolve("remote")
			return true
		}
		c.ignore(cmd, "solve not accepted in state "+string(c.state))
	default:
		c.ignore(cmd, "unknown command")
	}
	return false
}

func (c *Controller) ignore(cmd Command, reason string) {
	events.Emit("warning", "command.ignored", reason, map[string]interface{}{
		"command": string(cmd),
		"state":   string(c.state),
	})
}

// Resync makes the next cycle re-send every strip's pattern and the door
// lock. Call when the IO controller registers again or the broker comes
// back, since requests made while it was away were dropped. Safe for
// concurrent use.
func (c *Controller) Resync() {
	c.resync.Store(true)
}

func (c *Controller) resendOutputs() {
	c.lights.Reapply()
	if c.lockKnown {
		c.setDoorLock(c.doorLocked, true)
	}
}

// Reset pulses the latch, releases the door lock, turns every strip off,
// clears the context and returns to StateUnpowered.
func (c *Controller) Reset(source string) {
	c.act.PulseLatch()
	events.Emit("info", "actuator.latch_pulse", "", map[string]interface{}{"reason": "reset"})
	c.setDoorLock(false, true)
	c.lights.Clear()
	c.ctx.reset()
	c.resets++

	from := c.state
	c.transition(StateUnpowered, "reset:"+source)

	events.Emit("info", "puzzle.reset", "", map[string]interface{}{
		"source": source,
		"from":   string(from),
	})
	events.StartSession()
}

// startSolve begins the solve procedure. The controller stays in its
// current state until the sequence finale moves it to StateSolved.
func (c *Controller) startSolve(source string) {
	now := c.clock.Now()
	c.seq = c.newSolveSequence(now, source)

	events.Emit("info", "puzzle.solving", "", map[string]interface{}{
		"source":      source,
		"duration_ms": c.cfg.SolveDuration.Milliseconds(),
	})

	if c.seq.tick(now) {
		c.seq = nil
	}
}

func (c *Controller) stepSequence() {
	if c.seq.tick(c.clock.Now()) {
		c.seq = nil
		c.advance()
		return
	}
	c.lights.Advance(c.seq.strips...)
}

// finishSolve is the finale of the solve sequence.
func (c *Controller) finishSolve(now time.Time, source string) {
	c.lights.Clear()
	c.showFinalColors()

	c.act.PulseLatch()
	events.Emit("info", "actuator.latch_pulse", "", map[string]interface{}{"reason": "solve"})

	solvedAt := now
	c.ctx.SolvedAt = &solvedAt
	c.solves++
	c.transition(StateSolved, "solve:"+source)

	events.Emit("info", "puzzle.solved", "", map[string]interface{}{
		"source":    source,
		"solved_at": now.UTC().Format(time.RFC3339Nano),
	})
}

func (c *Controller) gameOver(elapsed time.Duration) {
	c.lights.AllOff()
	c.setDoorLock(false, false)
	c.transition(StateGameOver, "timeout")

	events.Emit("info", "puzzle.game_over", "", map[string]interface{}{
		"elapsed_sec": int(elapsed.Seconds()),
	})
}

// setDoorLock drives the door lock when its state changes, or always
// when force is set.
func (c *Controller) setDoorLock(locked, force bool) {
	if !force && c.lockKnown && c.doorLocked == locked {
		return
	}
	c.act.SetDoorLock(locked)
	c.doorLocked = locked
	c.lockKnown = true

	events.Emit("info", "actuator.door_lock", "", map[string]interface{}{
		"locked": locked,
	})
}

func (c *Controller) transition(to State, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to

	events.Emit("info", "puzzle.state_changed", "", map[string]interface{}{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
	if c.observer != nil {
		c.observer.Transition(from, to, reason)
	}
}

// advance moves every strip's animation one frame.
func (c *Controller) advance() {
	c.lights.Advance()
}

func (c *Controller) publish() {
	snap := Snapshot{
		State:          c.state,
		Solving:        c.seq != nil,
		BeamBroken:     c.ctx.BeamBroken,
		DoorClosed:     c.ctx.DoorClosed,
		AllTagsCorrect: c.ctx.AllTagsCorrect,
		DoorLocked:     c.doorLocked,
		Readers:        c.matcher.Status(),
		Solves:         c.solves,
		Resets:         c.resets,
		Cycles:         c.cycles,
	}
	if c.ctx.SolvedAt != nil {
		t := *c.ctx.SolvedAt
		snap.SolvedAt = &t
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// Snapshot returns the state published at the end of the last cycle.
// Safe for concurrent use.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.snap
	snap.Readers = append([]ReaderStatus{}, c.snap.Readers...)
	return snap
}

// State returns the published state. Safe for concurrent use.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.State
}

// Context returns a copy of the live context. Only call from the loop
// goroutine or while the loop is stopped.
func (c *Controller) Context() Context {
	ctx := c.ctx
	if c.ctx.SolvedAt != nil {
		t := *c.ctx.SolvedAt
		ctx.SolvedAt = &t
	}
	return ctx
}
