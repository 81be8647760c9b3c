// Package lights tracks the pattern requested for each light strip and
// forwards only real changes to the renderer.
package lights

import (
	"fmt"
	"time"
)

// Strip identifies a physical light strip on the prop.
type Strip int

const (
	StripBeakers  Strip = 1 // beaker shelf
	StripPipeRed  Strip = 2 // left pipe
	StripCrystal  Strip = 3 // crystal compartment
	StripPipeBlue Strip = 4 // right pipe
)

// AllStrips lists every strip in render order.
var AllStrips = []Strip{StripBeakers, StripPipeRed, StripCrystal, StripPipeBlue}

// Color is a packed 0xRRGGBB value.
type Color uint32

const (
	Black  Color = 0x000000
	Red    Color = 0xFF0000
	Green  Color = 0x00FF00
	Blue   Color = 0x0000FF
	Purple Color = 0x800080
)

// RGB builds a Color from components.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// Hex renders the color as "#RRGGBB".
func (c Color) Hex() string {
	return fmt.Sprintf("#%06X", uint32(c)&0xFFFFFF)
}

// Kind is the animation a strip is asked to show.
type Kind string

const (
	KindOff   Kind = "off"
	KindSolid Kind = "solid"
	KindFlash Kind = "flash"
	KindChase Kind = "chase"
)

// Direction applies to chase patterns.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// Pattern is a complete request for one strip.
type Pattern struct {
	Kind         Kind
	Color        Color
	Period       time.Duration // flash only
	Direction    Direction     // chase only
	Accelerating bool          // chase only
}

// Off turns a strip dark.
func Off() Pattern {
	return Pattern{Kind: KindOff, Color: Black}
}

// Solid fills a strip with one color.
func Solid(c Color) Pattern {
	return Pattern{Kind: KindSolid, Color: c}
}

// Flash blinks a strip with the given period.
func Flash(c Color, period time.Duration) Pattern {
	return Pattern{Kind: KindFlash, Color: c, Period: period}
}

// Chase runs a directional chase, optionally speeding up over time.
func Chase(c Color, dir Direction, accelerating bool) Pattern {
	return Pattern{Kind: KindChase, Color: c, Direction: dir, Accelerating: accelerating}
}

// Same reports whether p and o are the same request for idempotence
// purposes: kind and primary color only.
func (p Pattern) Same(o Pattern) bool {
	return p.Kind == o.Kind && p.Color == o.Color
}

func (p Pattern) String() string {
	switch p.Kind {
	case KindFlash:
		return fmt.Sprintf("flash(%s, %s)", p.Color.Hex(), p.Period)
	case KindChase:
		return fmt.Sprintf("chase(%s, %s, accel=%t)", p.Color.Hex(), p.Direction, p.Accelerating)
	case KindSolid:
		return fmt.Sprintf("solid(%s)", p.Color.Hex())
	case KindOff:
		return "off"
	default:
		return "none"
	}
}
