package main

import "math"

// ============================================================================
// Rotary Selector
// ============================================================================
// The selector is a knob that sweeps a fixed 270° arc. Pointer positions are
// converted into an angle, the angle is clamped to the arc and normalized into
// a 0..100 value, and the value is snapped to the configured number of notches.
// ============================================================================

// PointerAngle converts a pointer offset from the knob center (screen
// coordinates, y grows downward) into a knob angle in (-180, 180].
func PointerAngle(dx, dy float64) float64 {
	theta := math.Atan2(dy, dx)*180/math.Pi + 90
	if theta > 180 {
		theta -= 360
	}
	return theta
}

// SelectorValue maps a knob angle to a selector value in [0,100], snapped to
// steps notches when steps > 1.
func SelectorValue(angle float64, steps int) int {
	return SnapSelectorValue(AngleToRaw(angle), steps)
}

// AngleToRaw clamps an angle to the knob arc and normalizes it to an
// unsnapped value in [0,100].
func AngleToRaw(angle float64) float64 {
	if math.IsNaN(angle) {
		angle = knobMinAngle
	}
	if angle < knobMinAngle {
		angle = knobMinAngle
	}
	if angle > knobMaxAngle {
		angle = knobMaxAngle
	}
	return (angle - knobMinAngle) / knobArc * 100
}

// SnapSelectorValue quantizes a raw 0..100 value onto the notch grid and rounds
// it to the nearest integer.
func SnapSelectorValue(raw float64, steps int) int {
	if math.IsNaN(raw) || raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	if steps > 1 {
		stepSize := 100 / float64(steps-1)
		raw = math.Round(raw/stepSize) * stepSize
	}
	v := int(math.Round(raw))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// NotchOf returns the notch (0..steps-1) nearest to a selector value.
func NotchOf(value float64, steps int) int {
	if steps <= 1 {
		return 0
	}
	n := int(math.Round(value / 100 * float64(steps-1)))
	if n < 0 {
		return 0
	}
	if n > steps-1 {
		return steps - 1
	}
	return n
}

// NotchValue returns the selector value sitting exactly on a notch.
func NotchValue(notch, steps int) int {
	if steps <= 1 {
		return 0
	}
	if notch < 0 {
		notch = 0
	}
	if notch > steps-1 {
		notch = steps - 1
	}
	return int(math.Round(float64(notch) * 100 / float64(steps-1)))
}

// KnobRotation returns the knob's visual rotation in degrees for a value.
func KnobRotation(value float64) float64 {
	return value/100*knobArc + knobMinAngle
}

// ActiveDots returns how many of the dotCount scale dots are lit for a value.
// A dot lights once the knob rotation reaches it, with a 1° allowance for
// snapping error.
func ActiveDots(value float64, dotCount int) int {
	if dotCount <= 0 {
		return 0
	}
	if dotCount == 1 {
		return 1
	}
	rotation := KnobRotation(value)
	n := 0
	for i := 0; i < dotCount; i++ {
		dotAngle := float64(i)/float64(dotCount-1)*knobArc + knobMinAngle
		if rotation >= dotAngle-1 {
			n++
		}
	}
	return n
}

// SelectorState is the reducer-owned knob state.
//
// Dragging models the pointer drag session: a grab arms it, moves are only
// honored while armed (wherever the pointer is), and a release disarms it.
type SelectorState struct {
	Value    int
	Dragging bool
}

// Grab arms the drag session.
func (s *SelectorState) Grab() { s.Dragging = true }

// Release disarms the drag session. Releasing an idle session is a no-op.
func (s *SelectorState) Release() { s.Dragging = false }

// Move recomputes the value from a knob angle. It returns false and leaves the
// value untouched when no drag session is armed.
func (s *SelectorState) Move(angle float64, steps int) (int, bool) {
	if !s.Dragging {
		return s.Value, false
	}
	s.Value = SelectorValue(angle, steps)
	return s.Value, true
}
