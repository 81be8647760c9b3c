package lights

import (
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
)

// Driver is the renderer side of the light port. The renderer owns pixel
// buffers and frame interpolation; callers only request patterns.
type Driver interface {
	Solid(strip Strip, c Color)
	Flash(strip Strip, c Color, period time.Duration)
	Chase(strip Strip, c Color, dir Direction, accelerating bool)
	AdvanceFrame(strip Strip)
}

// Bank caches the active pattern per strip and forwards a request to the
// driver only when it differs from what is already showing. Re-requesting
// the same pattern would restart its animation phase.
//
// Bank is not safe for concurrent use; it belongs to the control loop.
type Bank struct {
	driver Driver
	active map[Strip]Pattern
}

// NewBank creates a bank for the given strips. No request has been made
// yet, so the first request to every strip is always forwarded.
func NewBank(driver Driver, strips ...Strip) *Bank {
	if len(strips) == 0 {
		strips = AllStrips
	}
	b := &Bank{
		driver: driver,
		active: make(map[Strip]Pattern, len(strips)),
	}
	for _, s := range strips {
		b.active[s] = Pattern{}
	}
	return b
}

// Request asks strip to show p. Returns true if the driver was called.
func (b *Bank) Request(strip Strip, p Pattern) bool {
	cur, ok := b.active[strip]
	if ok && cur.Same(p) {
		return false
	}
	b.apply(strip, p)
	return true
}

// Force sends p to the driver even if it is already active.
func (b *Bank) Force(strip Strip, p Pattern) {
	b.apply(strip, p)
}

// AllOff requests off on every strip.
func (b *Bank) AllOff() {
	for _, s := range b.Strips() {
		b.Request(s, Off())
	}
}

// Clear forces every strip off, dropping any running animation.
func (b *Bank) Clear() {
	for _, s := range b.Strips() {
		b.Force(s, Off())
	}
}

// Reapply sends every strip's active pattern to the driver again, for a
// renderer that lost what it was showing. Strips never requested are
// skipped.
func (b *Bank) Reapply() {
	for _, s := range b.Strips() {
		if p := b.active[s]; p.Kind != "" {
			b.apply(s, p)
		}
	}
}

// Active returns the pattern currently requested for strip.
func (b *Bank) Active(strip Strip) Pattern {
	return b.active[strip]
}

// Advance moves the given strips' animations forward one frame.
// With no arguments every strip is advanced.
func (b *Bank) Advance(strips ...Strip) {
	if len(strips) == 0 {
		strips = b.Strips()
	}
	for _, s := range strips {
		b.driver.AdvanceFrame(s)
	}
}

// Strips returns the managed strips in render order.
func (b *Bank) Strips() []Strip {
	out := make([]Strip, 0, len(b.active))
	for _, s := range AllStrips {
		if _, ok := b.active[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bank) apply(strip Strip, p Pattern) {
	switch p.Kind {
	case KindOff:
		b.driver.Solid(strip, Black)
	case KindSolid:
		b.driver.Solid(strip, p.Color)
	case KindFlash:
		b.driver.Flash(strip, p.Color, p.Period)
	case KindChase:
		b.driver.Chase(strip, p.Color, p.Direction, p.Accelerating)
	default:
		return
	}
	b.active[strip] = p

	events.Emit("debug", "lights.request", "", map[string]interface{}{
		"strip":   int(strip),
		"pattern": p.String(),
	})
}
