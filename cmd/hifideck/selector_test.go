package main

import (
	"math"
	"testing"
)

func TestPointerAngle(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		want   float64
	}{
		{"up", 0, -1, 0},
		{"right", 1, 0, 90},
		{"down", 0, 1, 180},
		{"left", -1, 0, -90},
	}
	for _, tt := range tests {
		if got := PointerAngle(tt.dx, tt.dy); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: PointerAngle(%v,%v) = %v, want %v", tt.name, tt.dx, tt.dy, got, tt.want)
		}
	}
}

func TestSelectorValue_ClampsAndSnaps(t *testing.T) {
	tests := []struct {
		angle float64
		steps int
		want  int
	}{
		{-135, 25, 0},
		{135, 25, 100},
		{0, 25, 50},
		{200, 25, 100}, // past the arc end
		{-180, 25, 0},  // dead zone below the arc
		{-130, 25, 0},  // raw 1.85 snaps back to notch 0
		{-120, 25, 4},  // raw 5.56 snaps to notch 1 (4.17)
		{10, 1, 54},    // no snapping with a single notch
		{10, 0, 54},    // steps <= 1 behaves the same
		{67.4, 3, 50},  // raw just under 75 stays on the middle notch
		{67.5, 3, 100}, // halfway rounds up
		{-135, 100, 0},
	}
	for _, tt := range tests {
		if got := SelectorValue(tt.angle, tt.steps); got != tt.want {
			t.Errorf("SelectorValue(%v, %d) = %d, want %d", tt.angle, tt.steps, got, tt.want)
		}
	}

	if got := SelectorValue(math.NaN(), 25); got != 0 {
		t.Errorf("SelectorValue(NaN) = %d, want 0", got)
	}
}

func TestSnapSelectorValue_IsIdempotentOnNotches(t *testing.T) {
	for _, steps := range []int{2, 3, 7, 25, 101} {
		for n := 0; n < steps; n++ {
			v := NotchValue(n, steps)
			if got := SnapSelectorValue(float64(v), steps); got != v {
				t.Fatalf("steps=%d notch=%d: snap(%d) = %d", steps, n, v, got)
			}
			if got := NotchOf(float64(v), steps); got != n {
				t.Fatalf("steps=%d: NotchOf(%d) = %d, want %d", steps, v, got, n)
			}
		}
	}
}

func TestNotchValue_Bounds(t *testing.T) {
	if got := NotchValue(-3, 25); got != 0 {
		t.Errorf("NotchValue(-3) = %d, want 0", got)
	}
	if got := NotchValue(99, 25); got != 100 {
		t.Errorf("NotchValue(99) = %d, want 100", got)
	}
	if got := NotchValue(1, 25); got != 4 {
		t.Errorf("NotchValue(1) = %d, want 4", got)
	}
	if got := NotchValue(5, 1); got != 0 {
		t.Errorf("NotchValue with one notch = %d, want 0", got)
	}
}

func TestKnobRotationAndActiveDots(t *testing.T) {
	if got := KnobRotation(0); got != -135 {
		t.Errorf("KnobRotation(0) = %v", got)
	}
	if got := KnobRotation(50); got != 0 {
		t.Errorf("KnobRotation(50) = %v", got)
	}
	if got := KnobRotation(100); got != 135 {
		t.Errorf("KnobRotation(100) = %v", got)
	}

	tests := []struct {
		value float64
		want  int
	}{
		{0, 1},
		{4, 2}, // within the 1° allowance of the second dot
		{25, 7},
		{50, 13},
		{100, 25},
	}
	for _, tt := range tests {
		if got := ActiveDots(tt.value, knobDotCount); got != tt.want {
			t.Errorf("ActiveDots(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}
	if got := ActiveDots(50, 0); got != 0 {
		t.Errorf("ActiveDots with no dots = %d", got)
	}
}

func TestSelectorState_MoveRequiresGrab(t *testing.T) {
	var s SelectorState

	if _, ok := s.Move(135, 25); ok {
		t.Fatalf("move without grab must be ignored")
	}
	if s.Value != 0 {
		t.Fatalf("value changed without grab: %d", s.Value)
	}

	s.Grab()
	v, ok := s.Move(135, 25)
	if !ok || v != 100 {
		t.Fatalf("Move after grab = %d, %v", v, ok)
	}

	// Moves far outside the knob still count while dragging.
	if v, _ := s.Move(-170, 25); v != 0 {
		t.Fatalf("Move into dead zone = %d, want 0", v)
	}

	s.Release()
	s.Release() // idempotent
	if s.Dragging {
		t.Fatalf("still dragging after release")
	}
	if _, ok := s.Move(0, 25); ok {
		t.Fatalf("move after release must be ignored")
	}
}
